package domain

const (
	CacheKeyActiveModels   = "models:active"
	CacheKeyAllPlans       = "plans:all"
	CacheKeySystemSettings = "settings:system"
)

func ModelCacheKey(modelID string) string { return "model:" + modelID }

func PlanCacheKey(planID string) string { return "plan:" + planID }

func UserCacheKey(userID string) string { return "user:" + userID }

func UserSubscriptionCacheKey(userID string) string { return "user:subscription:" + userID }
