package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestDecide(t *testing.T) {
	free := UserContext{UserID: "u1", Tier: TierFree, MonthNumber: 1}

	tests := []struct {
		name        string
		uc          UserContext
		action      Action
		subject     Subject
		wantAllowed bool
		wantCredits *int
		wantReason  bool
	}{
		{
			name:        "every tier reads all",
			uc:          free,
			action:      ActionRead,
			subject:     SubjectAll,
			wantAllowed: true,
		},
		{
			name:        "milestone update on free tier",
			uc:          free,
			action:      ActionUpdate,
			subject:     SubjectMilestone,
			wantAllowed: true,
		},
		{
			name:        "first baby is free",
			uc:          free,
			action:      ActionCreate,
			subject:     SubjectBaby,
			wantAllowed: true,
		},
		{
			name:        "second baby with short balance",
			uc:          UserContext{Tier: TierFree, BabyCount: 1, CreditsBalance: 10},
			action:      ActionCreate,
			subject:     SubjectBaby,
			wantAllowed: false,
			wantCredits: intPtr(ExtraBabyCost),
			wantReason:  true,
		},
		{
			name:        "second baby with enough balance",
			uc:          UserContext{Tier: TierFree, BabyCount: 1, CreditsBalance: 15},
			action:      ActionCreate,
			subject:     SubjectBaby,
			wantAllowed: true,
			wantCredits: intPtr(ExtraBabyCost),
		},
		{
			name:        "photo inside monthly allowance",
			uc:          UserContext{Tier: TierFree, MonthlyPhotoCount: 9},
			action:      ActionUpload,
			subject:     SubjectPhoto,
			wantAllowed: true,
			wantCredits: intPtr(0),
		},
		{
			name:        "eleventh photo without credits",
			uc:          UserContext{Tier: TierFree, MonthlyPhotoCount: 10},
			action:      ActionUpload,
			subject:     SubjectPhoto,
			wantAllowed: false,
			wantCredits: intPtr(ExtraPhotosCost),
			wantReason:  true,
		},
		{
			name:        "eleventh photo with one credit",
			uc:          UserContext{Tier: TierFree, MonthlyPhotoCount: 10, CreditsBalance: 1},
			action:      ActionUpload,
			subject:     SubjectPhoto,
			wantAllowed: true,
			wantCredits: intPtr(ExtraPhotosCost),
		},
		{
			name:        "photo inside paid batch",
			uc:          UserContext{Tier: TierFree, MonthlyPhotoCount: 14},
			action:      ActionUpload,
			subject:     SubjectPhoto,
			wantAllowed: true,
			wantCredits: intPtr(0),
		},
		{
			name:        "video on free tier without credits",
			uc:          UserContext{Tier: TierFree, CreditsBalance: 1},
			action:      ActionUpload,
			subject:     SubjectVideo,
			wantAllowed: false,
			wantCredits: intPtr(VideoUploadCost),
			wantReason:  true,
		},
		{
			name:        "month twelve on free tier",
			uc:          UserContext{Tier: TierFree, MonthNumber: 12},
			action:      ActionAccess,
			subject:     SubjectMonth,
			wantAllowed: true,
		},
		{
			name:        "month thirteen is a hard gate",
			uc:          UserContext{Tier: TierFree, MonthNumber: 13, CreditsBalance: 100},
			action:      ActionAccess,
			subject:     SubjectMonth,
			wantAllowed: false,
			wantReason:  true,
		},
		{
			name:        "template on free tier",
			uc:          UserContext{Tier: TierFree, CreditsBalance: 3},
			action:      ActionCreate,
			subject:     SubjectTemplate,
			wantAllowed: true,
			wantCredits: intPtr(PremiumTemplatesCost),
		},
		{
			name:        "export on free tier",
			uc:          UserContext{Tier: TierFree, CreditsBalance: 5},
			action:      ActionExport,
			subject:     SubjectAll,
			wantAllowed: true,
			wantCredits: intPtr(ExportFeaturesCost),
		},
		{
			name:        "analytics on free tier",
			uc:          UserContext{Tier: TierFree, CreditsBalance: 100},
			action:      ActionRead,
			subject:     SubjectAnalytics,
			wantAllowed: false,
			wantReason:  true,
		},
		{
			name:        "analytics on family tier",
			uc:          UserContext{Tier: TierFamily},
			action:      ActionRead,
			subject:     SubjectAnalytics,
			wantAllowed: true,
		},
		{
			name:        "lifetime uploads video for free",
			uc:          UserContext{Tier: TierLifetime},
			action:      ActionUpload,
			subject:     SubjectVideo,
			wantAllowed: true,
		},
		{
			name:        "family accesses month 30",
			uc:          UserContext{Tier: TierFamily, MonthNumber: 30},
			action:      ActionAccess,
			subject:     SubjectMonth,
			wantAllowed: true,
		},
		{
			name:        "uncovered pair fails closed",
			uc:          UserContext{Tier: TierFamily},
			action:      ActionDelete,
			subject:     SubjectBaby,
			wantAllowed: false,
			wantReason:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(tt.uc, tt.action, tt.subject)
			require.NoError(t, err)

			assert.Equal(t, tt.wantAllowed, got.Allowed)
			assert.Equal(t, tt.wantCredits, got.CreditsRequired)
			assert.Equal(t, tt.wantReason, got.Reason != nil)
		})
	}
}

func TestDecide_MalformedInput(t *testing.T) {
	tests := []struct {
		name    string
		uc      UserContext
		action  Action
		subject Subject
	}{
		{name: "unknown tier", uc: UserContext{Tier: "gold"}, action: ActionRead, subject: SubjectAll},
		{name: "unknown action", uc: UserContext{Tier: TierFree}, action: "share", subject: SubjectPhoto},
		{name: "unknown subject", uc: UserContext{Tier: TierFree}, action: ActionUpload, subject: "Audio"},
		{name: "negative balance", uc: UserContext{Tier: TierFree, CreditsBalance: -1}, action: ActionRead, subject: SubjectAll},
		{name: "month zero", uc: UserContext{Tier: TierFree}, action: ActionAccess, subject: SubjectMonth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decide(tt.uc, tt.action, tt.subject)
			assert.ErrorIs(t, err, ErrMalformedInput)

			_, err = RequiredCredits(tt.uc, tt.action, tt.subject)
			assert.ErrorIs(t, err, ErrMalformedInput)
		})
	}
}

func TestRequiredCredits_PhotoBatchBoundary(t *testing.T) {
	for count := 0; count <= 200; count++ {
		uc := UserContext{Tier: TierFree, MonthlyPhotoCount: count}
		got, err := RequiredCredits(uc, ActionUpload, SubjectPhoto)
		require.NoError(t, err)

		switch {
		case count < FreePhotosPerMonth:
			assert.Equal(t, 0, got, "count %d", count)
		case (count+1)%10 == 1:
			assert.Equal(t, ExtraPhotosCost, got, "count %d", count)
		default:
			assert.Equal(t, 0, got, "count %d", count)
		}
	}
}

func TestRequiredCredits_MatchesDecide(t *testing.T) {
	actions := []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionUpload, ActionExport, ActionAccess}
	subjects := []Subject{SubjectBaby, SubjectPhoto, SubjectVideo, SubjectMilestone, SubjectMonth,
		SubjectTemplate, SubjectExport, SubjectAnalytics, SubjectAll}

	for _, tier := range []Tier{TierFree, TierFamily, TierLifetime} {
		for count := 0; count <= 40; count++ {
			uc := UserContext{Tier: tier, MonthlyPhotoCount: count, BabyCount: count % 3, MonthNumber: 1, CreditsBalance: 100}
			for _, a := range actions {
				for _, s := range subjects {
					d, err := Decide(uc, a, s)
					require.NoError(t, err)
					cost, err := RequiredCredits(uc, a, s)
					require.NoError(t, err)

					if d.Charge() > 0 {
						assert.Equal(t, cost, d.Charge(), "%s %s %s count=%d", tier, a, s, count)
					}
					if tier.Premium() {
						assert.Zero(t, cost)
					}
				}
			}
		}
	}
}

func TestDecide_Deterministic(t *testing.T) {
	uc := UserContext{Tier: TierFree, MonthlyPhotoCount: 20, CreditsBalance: 1}
	first, err := Decide(uc, ActionUpload, SubjectPhoto)
	require.NoError(t, err)
	for range 5 {
		again, err := Decide(uc, ActionUpload, SubjectPhoto)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("lifetime")
	require.NoError(t, err)
	assert.Equal(t, TierLifetime, tier)

	_, err = ParseTier("platinum")
	assert.ErrorIs(t, err, ErrMalformedInput)
}
