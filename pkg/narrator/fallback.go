package narrator

import (
	"fmt"

	"skytour/pkg/model"
)

const defaultCategory model.Category = "default"

var fallbackNarrations = map[model.Language]map[model.Category]string{
	model.LangKorean: {
		model.CatLandmark:   "멋진 랜드마크가 보입니다. 서울의 아름다운 풍경을 즐겨보세요.",
		model.CatRestaurant: "이 근처에 유명한 맛집들이 있습니다. 서울의 맛을 느껴보세요.",
		model.CatCulture:    "문화와 예술이 살아 숨 쉬는 곳입니다. 서울의 다양한 문화를 경험해보세요.",
		model.CatNature:     "자연의 아름다움을 느낄 수 있는 곳입니다. 도심 속 휴식처를 만끽하세요.",
		model.CatShopping:   "쇼핑과 여가를 즐길 수 있는 거리입니다. 서울의 트렌디한 문화를 느껴보세요.",
		defaultCategory:     "서울 상공을 비행하고 있습니다. 아름다운 풍경을 즐겨주세요.",
	},
	model.LangEnglish: {
		model.CatLandmark:   "A wonderful landmark is in sight. Enjoy the beautiful scenery of Seoul.",
		model.CatRestaurant: "Famous restaurants are nearby. Experience the flavors of Seoul.",
		model.CatCulture:    "A place where culture and art thrive. Explore the diverse culture of Seoul.",
		model.CatNature:     "A place to feel the beauty of nature. Enjoy this urban oasis.",
		model.CatShopping:   "A street for shopping and leisure. Feel the trendy culture of Seoul.",
		defaultCategory:     "You are flying over Seoul. Enjoy the beautiful scenery.",
	},
}

// FallbackText returns the canned narration for a category in lang. Unknown
// categories use the language default; unknown languages use Korean.
func FallbackText(cat model.Category, lang model.Language) string {
	table, ok := fallbackNarrations[lang]
	if !ok {
		table = fallbackNarrations[model.LangKorean]
	}
	if text, ok := table[cat]; ok {
		return text
	}
	return table[defaultCategory]
}

// POIFallbackText describes p from its own catalog description, or returns
// the category text when p has none.
func POIFallbackText(p *model.POI, lang model.Language) string {
	if p == nil {
		return FallbackText(defaultCategory, lang)
	}
	desc := p.DescriptionFor(lang)
	if desc == "" {
		return FallbackText(p.Category, lang)
	}
	if lang == model.LangEnglish {
		return fmt.Sprintf("%s is visible. %s", p.DisplayName(lang), desc)
	}
	return fmt.Sprintf("%s이(가) 보입니다. %s", p.DisplayName(lang), desc)
}
