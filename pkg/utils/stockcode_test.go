package utils

import "testing"

func TestNormalizeCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"600000", "600000"},
		{" 600000 ", "600000"},
		{"1", "000001"},
		{"2594", "002594"},
		{"2594.0", "002594"},
		{"sh600000", "600000"},
		{"SZ000001", "000001"},
		{"600000.SH", "600000"},
		{"$300750", "300750"},
		{"行业", "行业"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeCode(tt.input); got != tt.expected {
				t.Errorf("NormalizeCode(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsValidCode(t *testing.T) {
	valid := []string{"600000", "000001", "300750"}
	invalid := []string{"", "60000", "6000000", "60000A", "公司"}
	for _, c := range valid {
		if !IsValidCode(c) {
			t.Errorf("IsValidCode(%q) = false, want true", c)
		}
	}
	for _, c := range invalid {
		if IsValidCode(c) {
			t.Errorf("IsValidCode(%q) = true, want false", c)
		}
	}
}

func TestSecID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"600000", "1.600000"},
		{"900901", "1.900901"},
		{"000001", "0.000001"},
		{"300750", "0.300750"},
		{"sh000001", "1.000001"},
		{"上证指数", "1.000001"},
		{"沪深300", "1.000300"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := SecID(tt.input); got != tt.expected {
				t.Errorf("SecID(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestIsIndex(t *testing.T) {
	if !IsIndex("SH000001") {
		t.Error("SH000001 should be an index")
	}
	if IsIndex("600000") {
		t.Error("600000 should not be an index")
	}
}
