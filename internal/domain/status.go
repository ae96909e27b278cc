package domain

// Verdict — итог проверки отправленного документа.
//
//	SUBMITTED → VALID
//	          ↘ REJECTED
type Verdict string

const (
	// VerdictSubmitted — документ получен, но ещё не проверен.
	VerdictSubmitted Verdict = "SUBMITTED"

	// VerdictValid — документ прошёл разбор и валидацию.
	VerdictValid Verdict = "VALID"

	// VerdictRejected — документ не разобран или содержит нарушения.
	VerdictRejected Verdict = "REJECTED"
)

// IsTerminal возвращает true, если проверка завершена.
func (v Verdict) IsTerminal() bool {
	return v == VerdictValid || v == VerdictRejected
}
