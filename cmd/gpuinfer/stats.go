// stats.go renders a generate.Result run summary with tablewriter, the same
// library and ALIGN_LEFT/no-border styling cmd/cmd_list.go uses for
// `ollama list`/`ollama ps`.
package main

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/ollama-fork/gpuinfer/generate"
)

func printStats(w io.Writer, res generate.Result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"METRIC", "VALUE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	tokensPerSec := 0.0
	if res.DecodeMs > 0 {
		tokensPerSec = float64(res.TokensGenerated) / (res.DecodeMs / 1000)
	}

	table.AppendBulk([][]string{
		{"prompt tokens", fmt.Sprintf("%d", len(res.AllTokenIDs)-res.TokensGenerated)},
		{"generated tokens", fmt.Sprintf("%d", res.TokensGenerated)},
		{"finish reason", string(res.FinishReason)},
		{"prefill ms", fmt.Sprintf("%.1f", res.PrefillMs)},
		{"decode ms", fmt.Sprintf("%.1f", res.DecodeMs)},
		{"total ms", fmt.Sprintf("%.1f", res.TotalMs)},
		{"tokens/sec", fmt.Sprintf("%.2f", tokensPerSec)},
	})
	table.Render()
}
