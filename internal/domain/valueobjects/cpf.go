package valueobjects

import (
	"regexp"
	"strconv"
	"strings"
)

// CPF is a validated Brazilian taxpayer identifier, stored in its clean
// 11-digit form.
type CPF struct {
	digits string
}

var cpfDigitsOnly = regexp.MustCompile(`[^0-9]`)

var invalidSequences = map[string]bool{
	"00000000000": true, "11111111111": true, "22222222222": true,
	"33333333333": true, "44444444444": true, "55555555555": true,
	"66666666666": true, "77777777777": true, "88888888888": true,
	"99999999999": true,
}

// CleanCPF strips all non-digit characters.
func CleanCPF(raw string) string {
	return cpfDigitsOnly.ReplaceAllString(raw, "")
}

// NewCPF validates a CPF's format and check digits, returning ok=false with
// an empty CPF if invalid.
func NewCPF(raw string) (CPF, bool) {
	clean := CleanCPF(raw)
	if len(clean) != 11 {
		return CPF{}, false
	}
	if invalidSequences[clean] {
		return CPF{}, false
	}
	if !validCheckDigits(clean) {
		return CPF{}, false
	}
	return CPF{digits: clean}, true
}

func validCheckDigits(cpf string) bool {
	d := make([]int, 11)
	for i, r := range cpf {
		n, err := strconv.Atoi(string(r))
		if err != nil {
			return false
		}
		d[i] = n
	}

	sum1 := 0
	for i := 0; i < 9; i++ {
		sum1 += d[i] * (10 - i)
	}
	digit1 := 11 - (sum1 % 11)
	if digit1 >= 10 {
		digit1 = 0
	}
	if d[9] != digit1 {
		return false
	}

	sum2 := 0
	for i := 0; i < 10; i++ {
		sum2 += d[i] * (11 - i)
	}
	digit2 := 11 - (sum2 % 11)
	if digit2 >= 10 {
		digit2 = 0
	}
	return d[10] == digit2
}

// String returns the clean 11-digit form.
func (c CPF) String() string { return c.digits }

// Formatted returns the XXX.XXX.XXX-XX display form.
func (c CPF) Formatted() string {
	if len(c.digits) != 11 {
		return c.digits
	}
	return c.digits[:3] + "." + c.digits[3:6] + "." + c.digits[6:9] + "-" + c.digits[9:]
}

// Masked returns a display form with the third group hidden, e.g.
// "529.982.***-25", safe for logs and chat replies.
func (c CPF) Masked() string {
	if len(c.digits) != 11 {
		return "***"
	}
	return c.digits[:3] + "." + c.digits[3:6] + ".***-" + c.digits[9:]
}

// IsZero reports whether this is the unset CPF value.
func (c CPF) IsZero() bool { return c.digits == "" }

// ExtractCPF finds the first valid CPF-shaped substring in free text,
// tolerating punctuated (123.456.789-01) or bare (12345678901) forms.
func ExtractCPF(message string) (CPF, bool) {
	candidates := cpfShapePattern.FindAllString(message, -1)
	for _, c := range candidates {
		if cpf, ok := NewCPF(c); ok {
			return cpf, true
		}
	}
	return CPF{}, false
}

var cpfShapePattern = regexp.MustCompile(`\d{3}\.?\d{3}\.?\d{3}-?\d{2}|\d{11}`)

// IsMessageCPFOnly reports whether message contains nothing but a CPF once
// every non-alphanumeric character in it is removed.
func IsMessageCPFOnly(message string) bool {
	cpf, ok := ExtractCPF(message)
	if !ok {
		return false
	}
	stripped := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			return r
		}
		return -1
	}, message)
	return stripped == cpf.String()
}
