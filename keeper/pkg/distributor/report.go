package distributor

import (
	"fmt"
	"io"
	"math/big"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"
)

const DefaultDecimals = 18

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	positiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	negativeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// FormatUnits renders a base-unit amount with the given number of decimals, e.g. 1500000000 with
// 9 decimals is "1.5".
func FormatUnits(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(normalizeDecimals(decimals))).String()
}

func normalizeDecimals(decimals int) int {
	if decimals <= 0 {
		return DefaultDecimals
	}
	return decimals
}

// WriteTransferReport writes the balance diff table of one transfer.
func WriteTransferReport(w io.Writer, res *TransferResult) error {
	header := headerStyle.Render(fmt.Sprintf("==Transfer for %s==", res.Key))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("account", "address", "before", "after", "diff").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 || col != 4 || row >= len(res.Deltas) {
				return lipgloss.NewStyle()
			}
			switch res.Deltas[row].Delta.Sign() {
			case 1:
				return positiveStyle
			case -1:
				return negativeStyle
			}
			return lipgloss.NewStyle()
		})
	for _, d := range res.Deltas {
		t.Row(
			d.Account,
			d.Address.Hex(),
			FormatUnits(d.Before, res.Decimals),
			FormatUnits(d.After, res.Decimals),
			FormatUnits(d.Delta, res.Decimals),
		)
	}

	_, err := fmt.Fprintf(w, "%s\nDiff %s (tx %s)\n%s\n", header, res.Key, res.TxHash.Hex(), t.Render())
	return err
}
