// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cloud

import (
	"context"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"github.com/jaycherian/gcp-go-movie-migration/internal/core/cor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PubSubListener runs a command for every message of a subscription. A
// message is acknowledged only when the command finished without errors;
// otherwise it is nacked and redelivered according to the subscription's
// retry policy, so the redelivery is the re-run of the failed migration.
type PubSubListener struct {
	client       *pubsub.Client
	subscription *pubsub.Subscription
	command      cor.Command
}

// NewPubSubListener creates a listener on subscriptionID. Messages are
// handled one at a time.
func NewPubSubListener(
	pubsubClient *pubsub.Client,
	subscriptionID string,
	command cor.Command,
) (cmd *PubSubListener, err error) {
	sub := pubsubClient.Subscription(subscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.NumGoroutines = 1

	cmd = &PubSubListener{
		client:       pubsubClient,
		subscription: sub,
		command:      command,
	}
	return cmd, nil
}

// Listen receives messages in the background until ctx is done. The returned
// channel is closed once receiving stopped.
func (m *PubSubListener) Listen(ctx context.Context) <-chan struct{} {
	slog.InfoContext(ctx, "listening", "subscription", m.subscription.String())
	done := make(chan struct{})

	go func() {
		defer close(done)
		tracer := otel.Tracer("message-listener")

		err := m.subscription.Receive(ctx, func(_ context.Context, msg *pubsub.Message) {
			spanCtx, span := tracer.Start(ctx, "receive-message")
			defer span.End()
			span.SetAttributes(attribute.String("msg.id", msg.ID), attribute.String("msg", string(msg.Data)))
			slog.InfoContext(spanCtx, "received message", "id", msg.ID)

			chainCtx := cor.NewBaseContext(spanCtx)
			chainCtx.Add(cor.CtxIn, string(msg.Data))
			m.command.Execute(chainCtx)

			if err := chainCtx.Err(); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "failed")
				slog.ErrorContext(spanCtx, "error executing chain; message returned for redelivery", "id", msg.ID, "error", err)
				// Redeliver now; a held message also keeps Receive from returning.
				msg.Nack()
				return
			}
			span.SetStatus(codes.Ok, "success")
			msg.Ack()
		})
		if err != nil {
			slog.ErrorContext(ctx, "error receiving data", "subscription", m.subscription.String(), "error", err)
		}
	}()
	return done
}
