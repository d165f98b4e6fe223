package orchestrator

import (
	"context"

	"github.com/soundlane/audio-pipeline/internal/broker"
	"github.com/soundlane/audio-pipeline/internal/schema"
)

// Subscriber is the inbound broker surface the orchestrator binds to.
type Subscriber interface {
	Subscribe(ctx context.Context, exchange, routingKey string, handler broker.Handler, opts broker.SubscribeOptions) error
	SubscribeDLQ(ctx context.Context, sourceExchange string, handler broker.Handler) error
}

// Register binds every orchestrator handler to its isolated queue. Each
// subscription gets its own durable queue and DLQ per the broker
// contract.
func Register(ctx context.Context, consumer Subscriber, workflow *Workflow, failures *FailureHandler) error {
	opts := broker.SubscribeOptions{}
	subscriptions := []struct {
		exchange string
		key      string
		handler  broker.Handler
	}{
		{schema.ExchangeMediaEvents, schema.RouteFileUploaded, workflow.HandleFileUploaded},
		{schema.ExchangeWorkerEvents, schema.RoutePreprocessDone, workflow.HandlePreprocessDone},
		{schema.ExchangeWorkerEvents, schema.RouteSegmentDone, workflow.HandleSegmentDone},
		{schema.ExchangeWorkerEvents, schema.RouteEnhancementDone, workflow.HandleEnhancementDone},
		{schema.ExchangeWorkerEvents, schema.RouteLangDetectDone, workflow.HandleLangDetectDone},
		{schema.ExchangeWorkerEvents, schema.RouteRecognitionDone, workflow.HandleRecognitionDone},
		{schema.ExchangeWorkerEvents, schema.RouteDiarizationDone, workflow.HandleDiarizationDone},
		{schema.ExchangeWorkerEvents, schema.RouteTranscodeDone, workflow.HandleTranscodeDone},
		{schema.ExchangeWorkerEvents, schema.RouteJobFinalized, workflow.HandleJobFinalized},
		{schema.ExchangeMediaCommands, schema.RouteCmdCancel, failures.HandleCancelCommand},
	}
	for _, sub := range subscriptions {
		if err := consumer.Subscribe(ctx, sub.exchange, sub.key, sub.handler, opts); err != nil {
			return err
		}
	}

	// A message that exhausts its retries on either exchange terminates
	// its job on first DLQ hit.
	for _, exchange := range []string{schema.ExchangeAudioOps, schema.ExchangeWorkerEvents} {
		if err := consumer.SubscribeDLQ(ctx, exchange, failures.HandleDLQMessage); err != nil {
			return err
		}
	}
	return nil
}
