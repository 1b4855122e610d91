package metadata

import (
	"slices"

	"github.com/hitoshi/emututor/internal/model"
)

// データストアが空の場合にフィルタUIへ提示する推奨値。
var (
	fallbackConsoles = []string{
		"NES", "SNES", "N64", "GameCube", "Wii", "Switch",
		"PS1", "PS2", "PS3", "PS4", "PS5",
		"Xbox", "Xbox 360", "Xbox One",
		"PC", "Game Boy", "GBA", "DS", "3DS",
	}
	fallbackEmulators = []string{
		"RetroArch", "PCSX2", "Dolphin", "Yuzu", "Ryujinx", "RPCS3", "Xenia",
		"PPSSPP", "Citra", "melonDS", "mGBA", "Snes9x", "Nestopia",
	}
	fallbackCategories = []string{
		"Setup & Installation", "Configuration", "Game-specific",
		"Performance Optimization", "Modding", "Troubleshooting", "Advanced Features",
	}
	fallbackDifficulties = []string{"Beginner", "Intermediate", "Advanced"}
)

// Fallback は推奨値のカタログを返す。呼び出し側が変更しても元の値は変わらない。
// 並び順はカタログの定義順（難易度は易しい順）のまま返す。
func Fallback() *model.Facets {
	return &model.Facets{
		Consoles:     slices.Clone(fallbackConsoles),
		Emulators:    slices.Clone(fallbackEmulators),
		Categories:   slices.Clone(fallbackCategories),
		Difficulties: slices.Clone(fallbackDifficulties),
	}
}
