package queue

import "testing"

func TestEmailMessageValidate(t *testing.T) {
	msg := EmailMessage{
		NotificationID: "n1",
		RecipientID:    "u1",
		Address:        "u1@school.example",
		Subject:        "Assignment graded",
		Body:           "Your assignment has been graded.",
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.NotificationID = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty notification id")
	}

	msg.NotificationID = "n1"
	msg.RecipientID = " "
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty recipient id")
	}

	msg.RecipientID = "u1"
	msg.Address = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty address")
	}

	msg.Address = "u1@school.example"
	msg.Subject = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty subject")
	}
}

func TestQueueNames(t *testing.T) {
	if EmailQueueName != "notify.email" {
		t.Fatalf("EmailQueueName = %s, want notify.email", EmailQueueName)
	}
	if EmailDLQName != "dlq.notify.email" {
		t.Fatalf("EmailDLQName = %s, want dlq.notify.email", EmailDLQName)
	}
}
