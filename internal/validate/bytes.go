package validate

import (
	"math"
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatBytes renders n in base-1024 units rounded to two decimals, e.g.
// "1.5 KB". Zero is "0 Bytes".
func FormatBytes(n int64) string {
	if n == 0 {
		return "0 Bytes"
	}

	i := 0
	for p := int64(1024); n >= p && i < len(sizeUnits)-1; p *= 1024 {
		i++
	}
	v := float64(n) / math.Pow(1024, float64(i))
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}

var printer = message.NewPrinter(language.English)

// groupDigits formats n with thousands separators, e.g. 524,288.
func groupDigits(n int) string {
	return printer.Sprintf("%d", n)
}
