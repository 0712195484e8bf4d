package cadence

import "time"

// OfferPlan is the time-boxed offer cadence sent to leads who have not replied.
func OfferPlan(interval, validFor time.Duration, expiredDay int) Plan {
	p := Plan{
		Name:     "offer",
		Interval: interval,
		Days: map[int]Content{
			0: {
				Subject: "Your {interest} offer from {dealer}",
				Email:   "Hi {name}, thanks for your interest in the {interest}. Your offer is ready and is valid for the next few days. Would you like to stop by to see it in person?",
				SMS:     "Hi {name}, it's {dealer}. Your offer on the {interest} is ready. Want to set up a time to see it? Reply STOP to opt out.",
			},
			1: {
				Subject: "Still thinking about the {interest}?",
				Email:   "Hi {name}, just checking in. The {interest} is still here and your offer is still active. What day works best for a quick visit?",
				SMS:     "Hi {name}, the {interest} is still available and your offer is active. What day works for a visit?",
			},
			2: {
				Subject: "A quick question about your {interest}",
				Email:   "Hi {name}, do you have any questions I can answer about the {interest}? Happy to help whenever you're ready.",
				SMS:     "Hi {name}, any questions about the {interest}? Happy to help.",
			},
			3: {
				Subject: "Your offer expires soon",
				Email:   "Hi {name}, your offer on the {interest} expires soon. Let me know if you'd like to come in before then.",
				SMS:     "Hi {name}, your {interest} offer expires soon. Want to come in before then?",
			},
		},
	}
	if validFor > 0 {
		p.Expiry = &Expiry{ValidFor: validFor, JumpToDay: expiredDay}
		p.Days[expiredDay] = Content{
			Subject: "We can still help with the {interest}",
			Email:   "Hi {name}, your original offer has expired, but we'd still love to help you with the {interest}. Reply any time and we'll put together an updated offer.",
			SMS:     "Hi {name}, your offer has expired but we can still help with the {interest}. Reply any time.",
		}
	}
	return p
}

// FollowUpPlan is the generic drip for leads that went quiet after a reply.
// It allows at most maxFollowUps touches.
func FollowUpPlan(interval time.Duration, maxFollowUps int) Plan {
	if maxFollowUps <= 0 {
		maxFollowUps = 1
	}
	return Plan{
		Name:     "followup",
		Interval: interval,
		Limit:    maxFollowUps,
		Days: map[int]Content{
			0: {
				Subject: "Following up on the {interest}",
				Email:   "Hi {name}, just following up on our conversation about the {interest}. Is there anything else I can help with?",
				SMS:     "Hi {name}, following up on the {interest}. Anything else I can help with?",
			},
		},
		Fallback: &Content{
			Subject: "Checking in",
			Email:   "Hi {name}, checking in to see if you're still interested in the {interest}. Just reply and we'll pick up where we left off.",
			SMS:     "Hi {name}, still interested in the {interest}? Just reply.",
		},
	}
}
