package main

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var (
	qrText string
	qrOut  string
	qrSize int
)

func init() {
	qrCmd.Flags().StringVar(&qrText, "text", "", "prefilled message")
	qrCmd.Flags().StringVarP(&qrOut, "out", "o", "", "write a PNG instead of printing to the terminal")
	qrCmd.Flags().IntVar(&qrSize, "size", 256, "PNG size in pixels")
	rootCmd.AddCommand(qrCmd)
}

var qrCmd = &cobra.Command{
	Use:   "qr <phone-number>",
	Short: "Render a click-to-chat QR code for a business number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		link, err := clickToChatLink(args[0], qrText)
		if err != nil {
			return err
		}
		if qrOut != "" {
			if err := qrcode.WriteFile(link, qrcode.Medium, qrSize, qrOut); err != nil {
				return fmt.Errorf("write qr: %w", err)
			}
			fmt.Printf("%s -> %s\n", link, qrOut)
			return nil
		}
		ascii, err := renderQR(link)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s\n  %s\n", ascii, link)
		return nil
	},
}

// clickToChatLink builds a wa.me link from a phone number in any common
// formatting.
func clickToChatLink(phone, text string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	if len(digits) < 8 || len(digits) > 15 {
		return "", fmt.Errorf("invalid phone number %q", phone)
	}
	link := "https://wa.me/" + digits
	if text != "" {
		link += "?text=" + url.QueryEscape(text)
	}
	return link, nil
}

// renderQR converts a string to a compact QR code using Unicode half-block
// characters.
func renderQR(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("generate qr: %w", err)
	}
	bitmap := qr.Bitmap()

	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		sb.WriteString("  ")
		for x := range bitmap[y] {
			top := bitmap[y][x]
			bot := y+1 < len(bitmap) && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
