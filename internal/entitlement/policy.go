// Package entitlement содержит чистую функцию принятия решения о доступе:
// (контекст пользователя, действие, объект) -> Decision.
//
// Пакет не выполняет ввода-вывода и не хранит состояние между вызовами:
// контекст передаётся явно при каждом вызове.
package entitlement

import (
	"errors"
	"fmt"
)

// Стоимость платных действий бесплатного тарифа в кредитах.
const (
	ExtraBabyCost        = 15
	ExtraPhotosCost      = 1
	VideoUploadCost      = 2
	PremiumTemplatesCost = 3
	ExportFeaturesCost   = 2
)

// Лимиты бесплатного тарифа.
const (
	FreePhotosPerMonth = 10
	PhotoBatchSize     = 10
	FreeMonthsLimit    = 12
)

// ErrMalformedInput возвращается для неизвестных значений перечислений и некорректных счётчиков.
var ErrMalformedInput = errors.New("malformed entitlement input")

// Tier тарифный план пользователя.
type Tier string

const (
	TierFree     Tier = "free"
	TierFamily   Tier = "family"
	TierLifetime Tier = "lifetime"
)

// Premium сообщает, относится ли тариф к платным.
func (t Tier) Premium() bool {
	return t == TierFamily || t == TierLifetime
}

func (t Tier) valid() bool {
	return t == TierFree || t.Premium()
}

// ParseTier разбирает строковое значение тарифа.
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.valid() {
		return "", fmt.Errorf("%w: unknown tier %q", ErrMalformedInput, s)
	}
	return t, nil
}

// Action действие над объектом.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionUpload Action = "upload"
	ActionExport Action = "export"
	ActionAccess Action = "access"
)

func (a Action) valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionUpload, ActionExport, ActionAccess:
		return true
	}
	return false
}

// Subject объект, над которым выполняется действие. SubjectAll покрывает любой объект.
type Subject string

const (
	SubjectBaby      Subject = "Baby"
	SubjectPhoto     Subject = "Photo"
	SubjectVideo     Subject = "Video"
	SubjectMilestone Subject = "Milestone"
	SubjectMonth     Subject = "Month"
	SubjectTemplate  Subject = "Template"
	SubjectExport    Subject = "Export"
	SubjectAnalytics Subject = "Analytics"
	SubjectAll       Subject = "all"
)

func (s Subject) valid() bool {
	switch s {
	case SubjectBaby, SubjectPhoto, SubjectVideo, SubjectMilestone, SubjectMonth,
		SubjectTemplate, SubjectExport, SubjectAnalytics, SubjectAll:
		return true
	}
	return false
}

// UserContext - состояние пользователя, вычисленное вызывающей стороной для одного запроса.
type UserContext struct {
	UserID            string
	Tier              Tier
	CreditsBalance    int
	BabyCount         int
	MonthlyPhotoCount int
	MonthNumber       int
	StorageUsedBytes  *int64
}

// Decision - результат проверки доступа.
//
// Allowed == false и CreditsRequired == nil - жёсткий запрет, кредиты не помогут.
// CreditsRequired > 0 - действие разрешено после списания указанного числа кредитов.
// CreditsRequired == 0 - разрешено сейчас без списания.
type Decision struct {
	Allowed         bool    `json:"allowed"`
	CreditsRequired *int    `json:"creditsRequired"`
	Reason          *string `json:"reason"`
}

// Charge возвращает число кредитов к списанию (0, если списание не требуется).
func (d Decision) Charge() int {
	if d.CreditsRequired == nil {
		return 0
	}
	return *d.CreditsRequired
}

// HardDenied сообщает, что действие нельзя разблокировать кредитами.
func (d Decision) HardDenied() bool {
	return !d.Allowed && d.CreditsRequired == nil
}

func validate(uc UserContext, action Action, subject Subject) error {
	switch {
	case !uc.Tier.valid():
		return fmt.Errorf("%w: unknown tier %q", ErrMalformedInput, uc.Tier)
	case !action.valid():
		return fmt.Errorf("%w: unknown action %q", ErrMalformedInput, action)
	case !subject.valid():
		return fmt.Errorf("%w: unknown subject %q", ErrMalformedInput, subject)
	case uc.CreditsBalance < 0, uc.BabyCount < 0, uc.MonthlyPhotoCount < 0:
		return fmt.Errorf("%w: negative counter", ErrMalformedInput)
	case action == ActionAccess && subject == SubjectMonth && uc.MonthNumber < 1:
		return fmt.Errorf("%w: month number must be >= 1, got %d", ErrMalformedInput, uc.MonthNumber)
	}
	return nil
}

// PhotoBatchBoundary сообщает, открывает ли загрузка при текущем счётчике
// monthlyPhotoCount новую пачку фотографий (11-я, 21-я, 31-я ...).
func PhotoBatchBoundary(monthlyPhotoCount int) bool {
	return monthlyPhotoCount >= FreePhotosPerMonth && (monthlyPhotoCount+1)%PhotoBatchSize == 1
}

// RequiredCredits возвращает стоимость действия в кредитах без учёта баланса.
// 0 означает, что списание не требуется (в том числе для жёстких запретов).
func RequiredCredits(uc UserContext, action Action, subject Subject) (int, error) {
	if err := validate(uc, action, subject); err != nil {
		return 0, err
	}
	return requiredCredits(uc, action, subject), nil
}

func requiredCredits(uc UserContext, action Action, subject Subject) int {
	if uc.Tier.Premium() {
		return 0
	}
	switch {
	case action == ActionCreate && subject == SubjectBaby:
		if uc.BabyCount == 0 {
			return 0
		}
		return ExtraBabyCost
	case action == ActionUpload && subject == SubjectPhoto:
		if PhotoBatchBoundary(uc.MonthlyPhotoCount) {
			return ExtraPhotosCost
		}
		return 0
	case action == ActionUpload && subject == SubjectVideo:
		return VideoUploadCost
	case action == ActionCreate && subject == SubjectTemplate:
		return PremiumTemplatesCost
	case action == ActionExport:
		return ExportFeaturesCost
	}
	return 0
}

// Decide принимает решение о доступе. Ошибка возвращается только для некорректного ввода,
// отказ в доступе выражается значением Decision.
func Decide(uc UserContext, action Action, subject Subject) (Decision, error) {
	if err := validate(uc, action, subject); err != nil {
		return Decision{}, err
	}

	// базовые правила для всех тарифов
	switch {
	case action == ActionRead && subject != SubjectAnalytics:
		return allow(), nil
	case subject == SubjectMilestone && (action == ActionCreate || action == ActionUpdate || action == ActionDelete):
		return allow(), nil
	}

	if uc.Tier.Premium() {
		if premiumAllowed(action, subject) {
			return allow(), nil
		}
		return deny("action is not permitted"), nil
	}
	return decideFree(uc, action, subject), nil
}

func premiumAllowed(action Action, subject Subject) bool {
	switch {
	case action == ActionCreate && subject == SubjectBaby,
		action == ActionUpload && subject == SubjectPhoto,
		action == ActionUpload && subject == SubjectVideo,
		action == ActionAccess && subject == SubjectMonth,
		action == ActionCreate && subject == SubjectTemplate,
		action == ActionExport,
		action == ActionRead && subject == SubjectAnalytics:
		return true
	}
	return false
}

func decideFree(uc UserContext, action Action, subject Subject) Decision {
	cost := requiredCredits(uc, action, subject)

	switch {
	case action == ActionCreate && subject == SubjectBaby:
		if cost == 0 {
			return allow()
		}
		return charge(uc, cost, "free plan includes one baby profile")
	case action == ActionUpload && subject == SubjectPhoto:
		if cost == 0 {
			return allowFree()
		}
		return charge(uc, cost, fmt.Sprintf("every %d photos beyond the monthly free allowance cost %d credit", PhotoBatchSize, cost))
	case action == ActionUpload && subject == SubjectVideo:
		return charge(uc, cost, "video uploads require credits on the free plan")
	case action == ActionAccess && subject == SubjectMonth:
		if uc.MonthNumber <= FreeMonthsLimit {
			return allow()
		}
		return deny(fmt.Sprintf("free plan covers the first %d months", FreeMonthsLimit))
	case action == ActionCreate && subject == SubjectTemplate:
		return charge(uc, cost, "premium templates require credits on the free plan")
	case action == ActionExport:
		return charge(uc, cost, "export requires credits on the free plan")
	case action == ActionRead && subject == SubjectAnalytics:
		return deny("analytics are available on family and lifetime plans")
	}
	return deny("action is not permitted")
}

func allow() Decision {
	return Decision{Allowed: true}
}

func allowFree() Decision {
	zero := 0
	return Decision{Allowed: true, CreditsRequired: &zero}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: &reason}
}

// charge разрешает действие при достаточном балансе; иначе отказывает,
// сохраняя стоимость, чтобы вызывающая сторона могла предложить покупку.
func charge(uc UserContext, cost int, reason string) Decision {
	if uc.CreditsBalance >= cost {
		return Decision{Allowed: true, CreditsRequired: &cost}
	}
	msg := fmt.Sprintf("insufficient credits: %s (required %d, available %d)", reason, cost, uc.CreditsBalance)
	return Decision{Allowed: false, CreditsRequired: &cost, Reason: &msg}
}
