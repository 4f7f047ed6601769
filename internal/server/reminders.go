package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/franckalain/fruitbeast/internal/session"
)

type reminderData struct {
	Message string `json:"message"`
}

// SendReminders pushes the snack reminder to every connected client. Each
// user gets the suggestion for their own postal code.
func (s *Server) SendReminders(ctx context.Context) error {
	users := make(map[string]bool)
	s.clients.Range(func(_, v any) bool {
		users[v.(*client).userID] = true
		return true
	})

	sent := 0
	for userID := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		sess, err := s.sessions.Get(ctx, userID)
		if err != nil {
			s.logger.Warn("skipping reminder", zap.String("user", userID), zap.Error(err))
			continue
		}
		msg := reminderData{Message: session.ReminderText(sess.Suggestion())}
		sent += s.broadcast(userID, MsgReminder, msg)
	}

	s.logger.Info("reminders sent", zap.Int("clients", sent))
	return nil
}
