package layer

import "testing"

// Layer.Forward's dispatch requires a live gpu.Device (kernel.Matmul et al.
// acquire real device buffers); pipeline's tests against gpu/fakedevice run
// TemplateStandard, and no test runs TemplateSandwichNorm. This test only
// pins the
// Template enum's zero value, since Config loading (pipeline) relies on an
// unset NormTemplate field defaulting to the standard pre-norm residual
// arrangement rather than silently picking sandwich-norm.
func TestTemplateZeroValueIsStandard(t *testing.T) {
	var tpl Template
	if tpl != TemplateStandard {
		t.Fatalf("Template zero value = %v, want TemplateStandard so an unset model config defaults to pre-norm", tpl)
	}
}
