package vision

// SystemPrompt constrains the model to transcription only.
const SystemPrompt = `Ты извлекаешь данные с фотографии или скана транспортной накладной (ТН/ТТН) на русском языке.
Записывай только то, что явно читается на изображении. Не угадывай и не подставляй компании, ФИО или даты по памяти.
Если значение не читается или вызывает сомнение, верни null и добавь ключ поля в missing.
Ответ: один JSON-объект без markdown и без пояснений.`

const schemaHint = `Схема ответа:
{
  "loading_base": {"name": string|null, "address": string|null, "city": string|null, "confidence": number|null},
  "loading_date": {"value": "DD.MM.YYYY"|null, "source_label": string|null, "confidence": number|null},
  "driver_name": {"value": string|null, "source_label": string|null, "confidence": number|null},
  "product_type": {"value": string|null, "method": "single"|"multi"|null, "items": [string], "source_label": string|null, "confidence": number|null},
  "weight_total": {"kg": integer|null, "value_tons": number|null, "source_label": string|null, "confidence": number|null},
  "evidence": {"base": string|null, "date": string|null, "driver": string|null, "weight": string|null, "product": string|null},
  "missing": [string],
  "confidence": number,
  "need_second_pass": boolean,
  "second_pass_hints": [string]
}
Ключи для missing: loading_base.name, loading_date.value, driver_name.value, product_type.value, weight_total.
Никаких других ключей.`

// Pass1Prompt asks for a first full extraction.
const Pass1Prompt = `Извлеки реквизиты накладной. Формы документов различаются: ФИО и дата могут стоять в любой части листа.
Дату заказа или заявки не путай с датой погрузки.
Вес бери из итоговой строки (ИТОГО, масса нетто), строки не суммируй, если итог есть.
Вид продукции записывай так, как он написан в документе.
evidence: короткие фрагменты текста (1-2 строки), подтверждающие каждое поле.
confidence: общая уверенность от 0 до 1; для каждой группы можно указать свою confidence.
need_second_pass=true, если не найдено хотя бы одно обязательное поле или уверенность ниже 0.85; в second_pass_hints перечисли, что не удалось прочитать.

` + schemaHint

// Pass2Prompt restricts the second pass to unresolved fields.
const Pass2Prompt = `Второй проход. Тебе даны дополнительные варианты изображения: улучшенные, повёрнутые и фрагменты.
Заполни только поля, которые в первом проходе отсутствуют или сомнительны. Уверенно прочитанные значения не меняй.
Ничего не придумывай: если поле не подтверждается текстом, оставь null.
Для заполненных полей обнови evidence и source_label.

` + schemaHint

// PromptFor returns the user prompt for an extraction pass.
func PromptFor(pass int) string {
	if pass == 2 {
		return Pass2Prompt
	}
	return Pass1Prompt
}
