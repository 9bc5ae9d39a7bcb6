package attendance

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/mail"
	"strconv"

	"github.com/trezcool/mahudhurio/core"
)

type summaryData struct {
	ClassID int
	Date    string
	Count   int
	Entries []Entry
}

// SummaryEmail builds the session-summary message sent when a capture
// session closes, with the recognized list attached as CSV.
func SummaryEmail(sess *Session, entries []Entry, to []mail.Address) *core.EmailMessage {
	msg := &core.EmailMessage{
		To:           to,
		Subject:      fmt.Sprintf("Attendance session closed - class %d, %s", sess.ClassID, sess.Date),
		TemplateName: "session-summary",
		TemplateData: summaryData{
			ClassID: sess.ClassID,
			Date:    sess.Date,
			Count:   len(entries),
			Entries: entries,
		},
	}
	if len(entries) > 0 {
		msg.Attachments = append(msg.Attachments, core.Attachment{
			Content:     summaryCSV(entries),
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("attendance-%d-%s.csv", sess.ClassID, sess.Date),
		})
	}
	return msg
}

func summaryCSV(entries []Entry) *bytes.Buffer {
	var buff bytes.Buffer
	w := csv.NewWriter(&buff)
	_ = w.Write([]string{"student_id", "full_name", "recognized_at"})
	for _, e := range entries {
		_ = w.Write([]string{strconv.Itoa(e.StudentID), e.FullName, e.At.Format("15:04:05")})
	}
	w.Flush()
	return &buff
}
