// Package main implements the Lambda entrypoint. Each invocation runs one
// extraction of the trailing window and returns the run result as an HTTP
// style response: 200 on success, 500 on failure.
package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/eventmill/eventmill/internal/app"
	"github.com/eventmill/eventmill/internal/config"
	"github.com/eventmill/eventmill/internal/logging"
)

// Response is the structured Lambda return value.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

func main() {
	lambda.Start(handle)
}

// handle runs one pipeline execution. The trigger payload (typically a
// scheduled event) is logged but otherwise unused.
func handle(ctx context.Context, event json.RawMessage) (Response, error) {
	cfg := config.DefaultConfig()
	config.LoadFromEnv(cfg)

	log, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return Response{StatusCode: 500, Body: fmt.Sprintf(`{"error": %q}`, err.Error())}, nil
	}
	defer log.Sync()

	log.Info("lambda invoked", zap.ByteString("event", event))

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to build pipeline", zap.Error(err))
		return Response{StatusCode: 500, Body: fmt.Sprintf(`{"error": %q}`, err.Error())}, nil
	}
	defer application.Close()

	result := application.Pipeline.Run(ctx)

	body, err := json.Marshal(result)
	if err != nil {
		log.Error("failed to encode result", zap.Error(err))
		return Response{StatusCode: 500, Body: fmt.Sprintf(`{"error": %q}`, err.Error())}, nil
	}

	status := 200
	if !result.Success {
		status = 500
	}
	return Response{StatusCode: status, Body: string(body)}, nil
}
