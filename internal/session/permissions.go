package session

import (
	"fmt"

	"github.com/pscheid92/eventrelay/internal/domain"
	apperrors "github.com/pscheid92/eventrelay/internal/platform/errors"
)

// Subscription types a client may request.
const (
	SubscribeModels         = "models"
	SubscribePlans          = "plans"
	SubscribePlanUpdates    = "plan_updates"
	SubscribePricingUpdates = "pricing_updates"
	SubscribeSystem         = "system"
)

const maxSubscriptionTargets = 50

// canSubscribeTo resolves a subscription request into rooms or explains why it is refused.
func canSubscribeTo(id domain.Identity, typ string, targets []string) ([]string, *apperrors.Error) {
	if len(targets) > maxSubscriptionTargets {
		return nil, apperrors.ValidationError(fmt.Sprintf("at most %d targets per request", maxSubscriptionTargets))
	}

	switch typ {
	case SubscribePlanUpdates:
		return []string{domain.RoomPlanUpdates}, nil

	case SubscribePricingUpdates:
		return []string{domain.RoomPricingUpdates}, nil

	case SubscribeModels:
		if id.Anonymous {
			return nil, apperrors.ForbiddenError("model subscriptions require authentication")
		}
		return targetRooms(targets, domain.ModelRoom)

	case SubscribePlans:
		if id.Anonymous {
			return nil, apperrors.ForbiddenError("plan subscriptions require authentication")
		}
		if !id.Role.Elevated() {
			for _, t := range targets {
				if t != id.PlanID {
					return nil, apperrors.ForbiddenError("only your own plan can be followed").WithContext("plan_id", t)
				}
			}
		}
		return targetRooms(targets, domain.PlanRoom)

	case SubscribeSystem:
		if id.Role != domain.RoleSuperadmin {
			return nil, apperrors.ForbiddenError("system subscription requires superadmin")
		}
		return []string{domain.RoomSystem}, nil

	default:
		return nil, apperrors.ValidationError("unknown subscription type").WithContext("type", typ)
	}
}

func targetRooms(targets []string, room func(string) string) ([]string, *apperrors.Error) {
	if len(targets) == 0 {
		return nil, apperrors.ValidationError("targets are required")
	}
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		if t == "" {
			return nil, apperrors.ValidationError("empty target")
		}
		out = append(out, room(t))
	}
	return out, nil
}
