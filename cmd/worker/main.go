package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"courseattend/internal/config"
	"courseattend/internal/mailclient"
	"courseattend/internal/queue"
	"courseattend/internal/store"
)

// Worker consumes notification messages and delivers them by email.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "courseattend:notify")
	}

	mail := mailclient.New(cfg.MailServiceURL, cfg.MailFrom, cfg.MailSkip)
	if !cfg.MailSkip {
		if err := mail.Health(ctx); err != nil {
			log.Printf("WARNING: mail service not available: %v", err)
			log.Println("Worker will retry delivery when messages arrive")
		} else {
			log.Println("Mail service connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		switch msg.Type {
		case queue.TypeContact:
			var req queue.ContactRequest
			if err := json.Unmarshal(msg.Body, &req); err != nil {
				log.Printf("bad contact payload: %v", err)
				continue
			}
			subject := "Contact form: " + req.Name
			body := fmt.Sprintf("From: %s <%s>\n\n%s", req.Name, req.Email, req.Message)
			if err := mail.Send(ctx, cfg.ContactEmail, subject, body); err != nil {
				log.Printf("contact mail delivery failed: %v", err)
				continue
			}
			log.Printf("contact message from %s delivered", req.Email)

		case queue.TypeMarked:
			var evt queue.MarkedEvent
			if err := json.Unmarshal(msg.Body, &evt); err != nil {
				log.Printf("bad marked payload: %v", err)
				continue
			}
			log.Printf("attendance marked: course=%s date=%s marked=%d failed=%d",
				evt.CourseID, evt.Date.Format("2006-01-02"), evt.Marked, evt.Failed)
			if evt.Failed > 0 {
				subject := fmt.Sprintf("Attendance partially applied for %s", evt.Date.Format("2006-01-02"))
				body := fmt.Sprintf("Course %s: %d marked, %d failed on %s.",
					evt.CourseID, evt.Marked, evt.Failed, evt.Date.Format("January 2, 2006"))
				if err := mail.Send(ctx, cfg.ContactEmail, subject, body); err != nil {
					log.Printf("mark digest delivery failed: %v", err)
				}
			}

		default:
			log.Printf("skipping unknown message type %q", msg.Type)
		}
	}
}
