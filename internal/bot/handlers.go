package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"remindbot/internal/models"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.sendMessage(msg.Chat.ID,
			"Hi! I schedule reminders.\n\n"+
				"/remind HH:MM <text> - one-shot reminder\n"+
				"/daily HH:MM <text> - every day\n"+
				"/weekly mon,wed,fri HH:MM <text> - on given weekdays\n"+
				"/list - your reminders\n"+
				"/cancel <id> - cancel a reminder\n"+
				"/snooze <id> <minutes> - defer the next occurrence\n"+
				"/done <id> | /miss <id> - acknowledge a reminder\n"+
				"/history - what fired and when")
	case "remind":
		b.handleCreate(ctx, msg, models.RuleOnce)
	case "daily":
		b.handleCreate(ctx, msg, models.RuleDaily)
	case "weekly":
		b.handleCreate(ctx, msg, models.RuleWeekly)
	case "list":
		b.handleList(ctx, msg)
	case "cancel":
		b.handleCancel(ctx, msg)
	case "snooze":
		b.handleSnooze(ctx, msg)
	case "done":
		b.handleAcknowledge(ctx, msg, models.ActionDone)
	case "miss":
		b.handleAcknowledge(ctx, msg, models.ActionMissed)
	case "history":
		b.handleHistory(ctx, msg)
	}
}

func (b *Bot) handleCreate(ctx context.Context, msg *tgbotapi.Message, kind models.RuleKind) {
	rule, text, err := parseRuleArgs(kind, msg.CommandArguments(), time.Now())
	if err != nil {
		b.sendMessage(msg.Chat.ID, err.Error())
		return
	}
	rem, err := b.svc.Create(ctx, msg.From.ID, text, rule)
	if err != nil {
		b.sendError(msg.Chat.ID, err)
		return
	}
	b.sendMessagef(msg.Chat.ID, "⏰ Reminder set: %s\nNext: %s\nid: %s",
		rem.Text, rem.NextFire.Format("2006-01-02 15:04"), rem.ID)
}

func (b *Bot) handleList(ctx context.Context, msg *tgbotapi.Message) {
	reminders, err := b.svc.List(ctx, msg.From.ID)
	if err != nil {
		b.sendError(msg.Chat.ID, err)
		return
	}
	if len(reminders) == 0 {
		b.sendMessage(msg.Chat.ID, "⏰ No reminders")
		return
	}

	var sb strings.Builder
	sb.WriteString("⏰ Your reminders\n\n")
	for _, r := range reminders {
		nextStr := "-"
		if r.NextFire != nil {
			nextStr = r.NextFire.Format("2006-01-02 15:04")
		}
		sb.WriteString(fmt.Sprintf("• %s (%s)\n  next: %s\n  id: %s\n\n",
			r.Text, describeRule(r.Rule), nextStr, r.ID))
	}
	b.sendMessage(msg.Chat.ID, sb.String())
}

func (b *Bot) handleCancel(ctx context.Context, msg *tgbotapi.Message) {
	id := strings.TrimSpace(msg.CommandArguments())
	if id == "" {
		b.sendMessage(msg.Chat.ID, "Usage: /cancel <id>")
		return
	}
	if err := b.svc.Cancel(ctx, id, msg.From.ID); err != nil {
		b.sendError(msg.Chat.ID, err)
		return
	}
	b.sendMessage(msg.Chat.ID, "Reminder cancelled")
}

func (b *Bot) handleSnooze(ctx context.Context, msg *tgbotapi.Message) {
	parts := strings.Fields(msg.CommandArguments())
	if len(parts) != 2 {
		b.sendMessage(msg.Chat.ID, "Usage: /snooze <id> <minutes>")
		return
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		b.sendMessage(msg.Chat.ID, "Minutes must be a number")
		return
	}
	rem, err := b.svc.Snooze(ctx, parts[0], msg.From.ID, minutes)
	if err != nil {
		b.sendError(msg.Chat.ID, err)
		return
	}
	b.sendMessagef(msg.Chat.ID, "Snoozed until %s", rem.NextFire.Format("2006-01-02 15:04"))
}

func (b *Bot) handleAcknowledge(ctx context.Context, msg *tgbotapi.Message, outcome models.Action) {
	id := strings.TrimSpace(msg.CommandArguments())
	if id == "" {
		b.sendMessagef(msg.Chat.ID, "Usage: /%s <id>", msg.Command())
		return
	}
	if err := b.svc.Acknowledge(ctx, id, msg.From.ID, outcome); err != nil {
		b.sendError(msg.Chat.ID, err)
		return
	}
	b.sendMessage(msg.Chat.ID, "Noted 👍")
}

func (b *Bot) handleHistory(ctx context.Context, msg *tgbotapi.Message) {
	entries, err := b.svc.History(ctx, msg.From.ID)
	if err != nil {
		b.sendError(msg.Chat.ID, err)
		return
	}
	if len(entries) == 0 {
		b.sendMessage(msg.Chat.ID, "No history yet")
		return
	}
	var sb strings.Builder
	sb.WriteString("📜 History\n\n")
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("%s  %s  %s\n",
			e.CreatedAt.Format("2006-01-02 15:04"), e.Action, e.ReminderID))
	}
	b.sendMessage(msg.Chat.ID, sb.String())
}

// sendError renders the taxonomy as user-facing text.
func (b *Bot) sendError(chatID int64, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		b.sendMessage(chatID, "No such reminder")
	case errors.Is(err, models.ErrAlreadyFired):
		b.sendMessage(chatID, "That reminder has already fired")
	case errors.Is(err, models.ErrInvalidSchedule):
		b.sendMessage(chatID, "That schedule doesn't work: "+err.Error())
	case errors.Is(err, models.ErrTextTooLong):
		b.sendMessage(chatID, "Message is too long")
	case errors.Is(err, models.ErrInvalidAction):
		b.sendMessage(chatID, "Use /done or /miss to acknowledge")
	default:
		b.sendMessage(chatID, "Something went wrong, please try again later")
	}
}

var weekdaysByAbbrev = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

// parseRuleArgs turns command arguments into a rule and the reminder text.
// One-shot and daily take "HH:MM text"; weekly takes "mon,wed,fri HH:MM text".
func parseRuleArgs(kind models.RuleKind, args string, now time.Time) (models.Rule, string, error) {
	args = strings.TrimSpace(args)
	rule := models.Rule{Kind: kind}

	if kind == models.RuleWeekly {
		parts := strings.SplitN(args, " ", 2)
		if len(parts) < 2 {
			return rule, "", errors.New("Usage: /weekly mon,wed,fri HH:MM <text>")
		}
		for _, name := range strings.Split(parts[0], ",") {
			day, ok := weekdaysByAbbrev[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				return rule, "", fmt.Errorf("Unknown weekday %q (use mon..sun)", name)
			}
			rule.Days = append(rule.Days, day)
		}
		args = parts[1]
	}

	parts := strings.SplitN(args, " ", 2)
	if len(parts) < 2 {
		return rule, "", fmt.Errorf("Usage: /%s HH:MM <text>", kind)
	}
	t, err := time.Parse("15:04", parts[0])
	if err != nil {
		return rule, "", errors.New("Time must be HH:MM, e.g. 15:30")
	}
	rule.At = time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	return rule, strings.TrimSpace(parts[1]), nil
}

func describeRule(rule models.Rule) string {
	switch rule.Kind {
	case models.RuleDaily:
		return "daily at " + rule.At.Format("15:04")
	case models.RuleWeekly:
		names := make([]string, 0, len(rule.Days))
		for _, d := range rule.Days {
			names = append(names, strings.ToLower(d.String()[:3]))
		}
		return "weekly " + strings.Join(names, ",") + " at " + rule.At.Format("15:04")
	default:
		return "once"
	}
}
