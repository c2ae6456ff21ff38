package enricher

import (
	"strings"

	"github.com/mozillazg/go-unidecode"
)

// UnknownCamera 是相机代码表查不到时的哨兵值。
const UnknownCamera = "Desconocida"

// DefaultFilmCode 是目录中缺少胶片/传感器代码时使用的代码。
const DefaultFilmCode = "UNKN"

// cameraTable 把目录中的相机代码映射为型号描述。
var cameraTable = map[string]string{
	"E2": "Kodak DCS 460",
	"E3": "Kodak DCS 660",
	"E4": "Kodak DCS 760",
	"EL": "Electronic Still Camera",
	"HB": "Hasselblad",
	"LH": "Linhof",
	"N1": "Nikon D1",
	"N2": "Nikon D2Xs",
	"N3": "Nikon D3",
	"N4": "Nikon D3S",
	"N5": "Nikon D4",
	"N6": "Nikon D5",
	"N7": "Nikon D6",
	"N8": "Nikon Z9",
	"NK": "Nikon F4",
	"UN": "Unspecified",
}

type film struct {
	Type        string
	Description string
}

var filmTable = map[string]film{
	"UNKN":  {"Unknown", "Unknown film or sensor"},
	"2443":  {"Color IR", "Aerochrome color infrared"},
	"5017":  {"Color", "Ektachrome professional"},
	"5069":  {"Color", "Ektachrome 64"},
	"SO242": {"Color", "Aerial color"},
	"3400":  {"B&W", "Panatomic-X aerial"},
	"CMOS":  {"Digital", "CMOS sensor"},
	"CCD":   {"Digital", "CCD sensor"},
}

var unknownFilm = film{Type: "Desconocido", Description: "Desconocido"}

// CameraName 查询相机代码表，查不到时返回 UnknownCamera。
func CameraName(code string) string {
	if name, ok := cameraTable[strings.TrimSpace(code)]; ok {
		return name
	}
	return UnknownCamera
}

// FilmFormat 返回 "<类型>: <描述>" 形式的格式字符串。
func FilmFormat(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		code = DefaultFilmCode
	}
	f, ok := filmTable[code]
	if !ok {
		f = unknownFilm
	}
	return f.Type + ": " + f.Description
}

func isUnknownCamera(name string) bool {
	return name == UnknownCamera || strings.Contains(name, "Desconocido") || strings.Contains(name, "Unspecified")
}

// ResolveCamera 决定最终的相机名称：代码表给出有效型号时直接使用，
// 否则退回详情页抓取的标签，两者都没有时返回 UnknownCamera。
func ResolveCamera(code, scrapedLabel string) string {
	if name := CameraName(code); !isUnknownCamera(name) {
		return name
	}
	if label := SanitizeCameraLabel(scrapedLabel); label != "" {
		return label
	}
	return UnknownCamera
}

// SanitizeCameraLabel 把抓取到的标签转为 ASCII，并将 '/' 和空格替换为 '_'，使其可以作为目录名。
func SanitizeCameraLabel(label string) string {
	label = strings.TrimSpace(unidecode.Unidecode(label))
	return strings.NewReplacer("/", "_", " ", "_").Replace(label)
}
