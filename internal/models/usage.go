package models

import "time"

// UsageEvent фиксирует выполненное пользователем тарифицируемое действие
// (загрузка фото, создание профиля ребёнка и т.п.).
type UsageEvent struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Action         string    `json:"action"`
	Subject        string    `json:"subject"`
	CreditsCharged int       `json:"creditsCharged"`
	Description    string    `json:"description"`
	CreatedAt      time.Time `json:"createdAt"`
}
