/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/onboarding/config"
	"github.com/blnkfinance/onboarding/internal/request"
	"github.com/blnkfinance/onboarding/model"
	"github.com/sirupsen/logrus"
)

// TriggerFor returns the notification a committed event should raise, if any.
// Only final decisions notify a party.
func TriggerFor(evt model.Event) (model.NotificationTrigger, bool) {
	t := model.NotificationTrigger{
		CaseID:  evt.PartitionKey(),
		EventID: evt.Meta().EventID.String(),
	}
	switch e := evt.(type) {
	case *model.CaseApproved:
		t.Type, t.RecipientHint = model.NotificationCaseApproved, "applicant"
	case *model.CaseRejected:
		t.Type, t.RecipientHint = model.NotificationCaseRejected, "applicant"
	case *model.WorkItemDeclined:
		t.Type = model.NotificationWorkItemDeclined
		t.RecipientHint = "reviewer"
		if e.DeclinedBy != "" {
			t.RecipientHint = e.DeclinedBy
		}
	default:
		return model.NotificationTrigger{}, false
	}
	return t, true
}

func slackMessage(err error, now time.Time) map[string]interface{} {
	field := func(text string) map[string]interface{} {
		return map[string]interface{}{
			"type":   "section",
			"fields": []map[string]string{{"type": "mrkdwn", "text": text}},
		}
	}
	return map[string]interface{}{
		"blocks": []interface{}{
			map[string]interface{}{
				"type": "header",
				"text": map[string]interface{}{"type": "plain_text", "text": "Error From Onboarding", "emoji": true},
			},
			field(fmt.Sprintf("*Error:*\n%v", err)),
			field(fmt.Sprintf("*Time:*\n%v", now.Format(time.RFC822))),
		},
	}
}

// SlackNotification posts an error alert to the configured Slack webhook.
func SlackNotification(ctx context.Context, webhookURL string, err error) error {
	client := request.NewClient(&http.Client{Timeout: 10 * time.Second}, nil)
	return client.Do(ctx, http.MethodPost, webhookURL, slackMessage(err, time.Now()), nil)
}

// NotifyError logs systemError and, when a Slack webhook is configured, alerts it
// without blocking the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			logrus.Error(err)
			return
		}
		if conf.Notification.Slack.WebhookUrl == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := SlackNotification(ctx, conf.Notification.Slack.WebhookUrl, systemError); err != nil {
			logrus.WithError(err).Warn("slack alert failed")
		}
	}(systemError)
}
