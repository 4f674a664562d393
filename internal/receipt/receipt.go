// Package receipt lays a voucher out as an 80mm till slip and renders it
// as plain text, ESC/POS printer bytes or a PNG image.
package receipt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"smartpos/internal/domain"
)

// Width is the slip width in characters.
const Width = 42

type Header struct {
	StoreName string
	Address   string
	Phone     string
}

func DefaultHeader() Header {
	return Header{StoreName: "SMART POS", Address: "123 Coding Lane, Dev City", Phone: "555-1234"}
}

// Lines lays out the voucher, one slip row per entry.
func Lines(v domain.Voucher, h Header) []string {
	rule := strings.Repeat("-", Width)
	lines := []string{center(h.StoreName)}
	if h.Address != "" {
		lines = append(lines, center(h.Address))
	}
	if h.Phone != "" {
		lines = append(lines, center("Tel: "+h.Phone))
	}
	lines = append(lines,
		rule,
		pair("Voucher:", v.VoucherNumber),
		pair("Date:", v.CreatedAt.Local().Format("2006-01-02 15:04:05")),
		pair("Cashier:", v.StaffUsername),
	)

	customer := "Walk-in"
	if v.Customer != nil && v.Customer.Name != "" {
		customer = v.Customer.Name
	}
	lines = append(lines, pair("Customer:", customer))
	if v.Customer != nil {
		if v.Customer.Phone != "" {
			lines = append(lines, pair("Cust. Phone:", v.Customer.Phone))
		}
		if v.Customer.Address != "" {
			lines = append(lines, wrapPair("Cust. Address:", v.Customer.Address)...)
		}
	}
	if v.DeliveryAddress != "" {
		lines = append(lines, wrapPair("Delivery:", v.DeliveryAddress)...)
	}

	lines = append(lines, rule, itemRow("ITEM", "QTY", "PRICE", "TOTAL"))
	for _, item := range v.Items {
		lines = append(lines, itemRow(item.ProductName, fmt.Sprint(item.Quantity), money(item.PriceAtSale), money(item.Subtotal)))
	}
	lines = append(lines, rule, pair("Subtotal:", money(v.Subtotal())))
	if v.TotalDiscount.IsPositive() {
		lines = append(lines, pair("Discount:", "-"+money(v.TotalDiscount)))
	}
	lines = append(lines,
		pair("TOTAL:", money(v.TotalAmount)),
		"",
		center("Thank you for your purchase!"),
	)
	return lines
}

// Text is the slip as newline-terminated rows.
func Text(v domain.Voucher, h Header) string {
	return strings.Join(Lines(v, h), "\n") + "\n"
}

// ESCPOS wraps the slip in printer initialise and partial-cut commands.
func ESCPOS(v domain.Voucher, h Header) []byte {
	out := []byte{0x1b, 0x40}
	for _, line := range Lines(v, h) {
		out = append(out, []byte(line)...)
		out = append(out, '\n')
	}
	return append(out, 0x1d, 0x56, 0x41, 0x10)
}

// FileName is the name a voucher's exported receipt image is saved under.
func FileName(v domain.Voucher) string {
	number := v.VoucherNumber
	if number == "" {
		number = fmt.Sprintf("voucher-%d", v.ID)
	}
	return "receipt-" + sanitize(number) + ".png"
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func center(s string) string {
	s = truncate(s, Width)
	pad := (Width - utf8.RuneCountInString(s)) / 2
	return strings.Repeat(" ", pad) + s
}

func pair(label, value string) string {
	value = truncate(value, Width-utf8.RuneCountInString(label)-1)
	gap := Width - utf8.RuneCountInString(label) - utf8.RuneCountInString(value)
	if gap < 1 {
		gap = 1
	}
	return label + strings.Repeat(" ", gap) + value
}

// wrapPair keeps the label on the first row and flows long values onto
// right-aligned continuation rows.
func wrapPair(label, value string) []string {
	room := Width - utf8.RuneCountInString(label) - 1
	words := strings.Fields(value)
	var rows []string
	current := ""
	for _, w := range words {
		switch {
		case current == "":
			current = w
		case utf8.RuneCountInString(current)+1+utf8.RuneCountInString(w) <= room:
			current += " " + w
		default:
			rows = append(rows, current)
			current = w
		}
	}
	if current != "" {
		rows = append(rows, current)
	}
	if len(rows) == 0 {
		return []string{pair(label, "")}
	}
	out := []string{pair(label, rows[0])}
	for _, r := range rows[1:] {
		out = append(out, pair("", r))
	}
	return out
}

func itemRow(name, qty, price, total string) string {
	const qtyW, priceW, totalW = 4, 10, 11
	nameW := Width - qtyW - priceW - totalW
	return fmt.Sprintf("%-*s%*s%*s%*s", nameW, truncate(name, nameW-1), qtyW, qty, priceW, price, totalW, total)
}

func truncate(s string, max int) string {
	if max < 1 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max])
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
