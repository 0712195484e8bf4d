package replygen

import (
	"context"
	"errors"
	"fmt"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/appointment"
)

// Template drafts from fixed copy. It backs offline runs and LLM outages.
type Template struct{}

func (Template) Generate(_ context.Context, rc ReplyContext) (Reply, error) {
	switch rc.Kind {
	case KindCadence, KindFollowUp:
		if rc.Template == nil {
			return Reply{}, errors.New("replygen: cadence template missing")
		}
		return finish(Reply{
			Subject: fill(rc.Template.Subject, rc),
			Body:    fill(rc.Template.Text(rc.Channel), rc),
		}, rc.Channel), nil
	case KindAutoReply:
		return finish(Reply{Subject: fill("Re: your {interest}", rc), Body: fill(autoReplyBody(rc), rc)}, rc.Channel), nil
	default:
		return Reply{}, fmt.Errorf("replygen: unknown kind %q", rc.Kind)
	}
}

func autoReplyBody(rc ReplyContext) string {
	if rc.Booked != "" {
		return fmt.Sprintf("Thanks {name}! You're all set for %s. We'll have the {interest} ready for you.", rc.Booked)
	}
	ex := rc.Appointment
	if ex == nil {
		return "Thanks {name}! Happy to help with the {interest}. What day and time work best for a visit?"
	}
	switch ex.Classification {
	case appointment.MultiOption:
		return "Thanks {name}! Which of those times works best for you? I'll get it on the calendar."
	case appointment.VagueDate:
		return "Sounds good, {name}. What time that day works best for you?"
	case appointment.VagueWindow:
		return fmt.Sprintf("Great, {name}. Does %s work for you? If not, just tell me a time you prefer.", windowPhrase(ex.Window))
	case appointment.OpenEnded:
		return "No problem, {name}. What day this week is easiest for you to stop by?"
	case appointment.Reschedule:
		return "No problem, {name}. What new day and time would work better for you?"
	case appointment.ExactTime:
		if ex.ISO == "" && ex.Reason != "" {
			return "Thanks {name}! Unfortunately that time doesn't work (" + ex.Reason + "). Is there another time that suits you?"
		}
		return "Thanks {name}! Let me confirm that time with the team and get right back to you."
	default:
		return "Thanks {name}! Happy to help with the {interest}. What day and time work best for a visit?"
	}
}

func windowPhrase(window string) string {
	switch window {
	case appointment.WindowMorning:
		return "10 AM"
	case appointment.WindowAfternoon:
		return "2 PM"
	case appointment.WindowEvening:
		return "5 PM"
	default:
		return "that time"
	}
}
