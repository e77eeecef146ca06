package display

import "testing"

func TestGetThemeByName(t *testing.T) {
	tests := []struct {
		name string
		want ColorTheme
	}{
		{name: "plain", want: PlainTextTheme()},
		{name: "none", want: PlainTextTheme()},
		{name: "dark", want: DarkColorTheme()},
		{name: "anything-else", want: DarkColorTheme()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetThemeByName(tt.name); got != tt.want {
				t.Errorf("GetThemeByName(%q) = %+v, want %+v", tt.name, got, tt.want)
			}
		})
	}
}

func TestColorSystem_ColorizeWithoutSupport(t *testing.T) {
	cs := NewColorSystem(DarkColorTheme())
	cs.colorSupported = false

	if got := cs.Colorize("hello", ColorBrightGreen); got != "hello" {
		t.Errorf("Colorize() = %q, want plain text", got)
	}
	if got := cs.Sprintf(ColorCyan, "%d rows", 42); got != "42 rows" {
		t.Errorf("Sprintf() = %q, want plain text", got)
	}
}

func TestColorSystem_Theme(t *testing.T) {
	theme := DarkColorTheme()
	cs := NewColorSystem(theme)

	if cs.Theme() != theme {
		t.Errorf("Theme() = %+v, want %+v", cs.Theme(), theme)
	}
}
