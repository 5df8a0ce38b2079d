package model

var dontKnowOption = map[string]string{
	"en": "I don't know, but I want to learn",
	"ru": "Я не знаю, но хочу узнать",
	"es": "No lo sé, pero quiero aprender",
	"de": "Ich weiß es nicht, möchte es aber lernen",
	"fr": "Je ne sais pas, mais je veux apprendre",
	"tr": "Bilmiyorum ama öğrenmek istiyorum",
}

var imageCaption = map[string]string{
	"en": "What will this code return?",
	"ru": "Что выведет этот код?",
	"es": "¿Qué devolverá este código?",
	"de": "Was gibt dieser Code zurück?",
	"fr": "Que va retourner ce code ?",
	"tr": "Bu kod ne döndürecek?",
}

var learnMore = map[string]string{
	"en": "Learn more",
	"ru": "Узнать больше",
	"es": "Saber más",
	"de": "Mehr erfahren",
	"fr": "En savoir plus",
	"tr": "Daha fazla bilgi",
}

var learnMorePrompt = map[string]string{
	"en": "Want to dig deeper? Read more here:",
	"ru": "Хотите разобраться подробнее? Читайте здесь:",
	"es": "¿Quieres profundizar? Lee más aquí:",
	"de": "Mehr dazu hier:",
	"fr": "Pour aller plus loin :",
	"tr": "Daha fazlası için:",
}

var pollQuestion = map[string]string{
	"en": "Choose the correct answer",
	"ru": "Выберите правильный ответ",
	"es": "Elige la respuesta correcta",
	"de": "Wähle die richtige Antwort",
	"fr": "Choisissez la bonne réponse",
	"tr": "Doğru cevabı seçin",
}

var difficultyLabel = map[string]map[Difficulty]string{
	"en": {DifficultyEasy: "Easy", DifficultyMedium: "Medium", DifficultyHard: "Hard"},
	"ru": {DifficultyEasy: "Легкий", DifficultyMedium: "Средний", DifficultyHard: "Сложный"},
}

func localized(table map[string]string, lang string) string {
	if s, ok := table[lang]; ok {
		return s
	}
	return table["en"]
}

// DontKnowOption локализованный вариант "не знаю" для опроса
func DontKnowOption(lang string) string { return localized(dontKnowOption, lang) }

// ImageCaption подпись под изображением кода
func ImageCaption(lang string) string { return localized(imageCaption, lang) }

// LearnMoreButton текст кнопки "подробнее"
func LearnMoreButton(lang string) string { return localized(learnMore, lang) }

// LearnMorePrompt текст сообщения с кнопкой
func LearnMorePrompt(lang string) string { return localized(learnMorePrompt, lang) }

// PollQuestion вопрос опроса, если в переводе нет текста вне кода
func PollQuestion(lang string) string { return localized(pollQuestion, lang) }

// DifficultyLabel подпись сложности
func DifficultyLabel(lang string, d Difficulty) string {
	labels, ok := difficultyLabel[lang]
	if !ok {
		labels = difficultyLabel["en"]
	}
	if s, ok := labels[d]; ok {
		return s
	}
	return string(d)
}
