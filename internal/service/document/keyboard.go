package document

import (
	"fmt"

	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/pkg/telegram"
)

// Callback data prefixes of the inline buttons.
const (
	ActionConfirm = "ok"
	ActionEdit    = "edit"
	ActionField   = "field"
	ActionBack    = "back"
	ActionReshoot = "reshoot"
	ActionRetry   = "retry"
	ActionNoop    = "noop"
)

var fieldLabels = map[models.FieldKind]string{
	models.FieldBaseName:    "Базис погрузки",
	models.FieldLoadingDate: "Дата погрузки",
	models.FieldDriverName:  "ФИО водителя",
	models.FieldWeight:      "Вес (кг)",
	models.FieldProductType: "Вид продукции",
}

var fieldPrompts = map[models.FieldKind]string{
	models.FieldBaseName:    "Введите Базис погрузки:",
	models.FieldBaseAddress: "Введите адрес базиса погрузки:",
	models.FieldLoadingDate: "Введите Дату погрузки (03.02.2026 или 2026-02-03):",
	models.FieldDriverName:  "Введите ФИО водителя:",
	models.FieldWeight:      "Введите Вес в кг (например 27328):",
	models.FieldProductType: "Введите Вид продукции:",
}

// FieldPrompt is the question asked when an operator picks a field to correct.
func FieldPrompt(f models.Field) string {
	if p, ok := fieldPrompts[f.Kind]; ok {
		return p
	}
	return "Введите новое значение:"
}

func button(text, action string, id int64) telegram.Button {
	return telegram.Button{Text: text, CallbackData: fmt.Sprintf("%s:%d", action, id)}
}

// MainKeyboard is attached to every recognition result.
func MainKeyboard(id int64) telegram.Keyboard {
	return telegram.Keyboard{{
		button("✅ Подтвердить", ActionConfirm, id),
		button("✏️ Исправить", ActionEdit, id),
		button("📸 Переснять", ActionReshoot, id),
	}}
}

// EditKeyboard lists the correctable fields.
func EditKeyboard(id int64) telegram.Keyboard {
	kb := make(telegram.Keyboard, 0, len(models.EditableFields)+1)
	for _, kind := range models.EditableFields {
		f := models.Field{Kind: kind}
		kb = append(kb, []telegram.Button{{
			Text:         fieldLabels[kind],
			CallbackData: fmt.Sprintf("%s:%d:%s", ActionField, id, f.String()),
		}})
	}
	return append(kb, []telegram.Button{button("⬅️ Назад", ActionBack, id)})
}

// RetryKeyboard is offered after a failed delivery.
func RetryKeyboard(id int64) telegram.Keyboard {
	return telegram.Keyboard{
		{button("🔁 Повторить отправку", ActionRetry, id)},
		{button("✏️ Исправить", ActionEdit, id)},
		{button("📸 Переснять", ActionReshoot, id)},
	}
}

// SentKeyboard marks a delivered document.
func SentKeyboard() telegram.Keyboard {
	return telegram.Keyboard{{{Text: "✅ Отправлено в Битрикс24", CallbackData: ActionNoop}}}
}

// KeyboardFor picks the keyboard matching the document status.
func KeyboardFor(doc *models.Document) telegram.Keyboard {
	switch doc.Status {
	case models.StatusSent:
		return SentKeyboard()
	case models.StatusDeliveryError:
		return RetryKeyboard(doc.ID)
	case models.StatusNeedReshoot, models.StatusConfirmed:
		return nil
	default:
		return MainKeyboard(doc.ID)
	}
}
