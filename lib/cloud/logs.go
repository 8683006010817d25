package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cw "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/nicolasgere/lambdaknit/lib/config"
)

type TailOptions struct {
	Since  time.Duration
	Limit  int32
	Filter string
}

type LogEvent struct {
	Timestamp time.Time
	Stream    string
	Message   string
}

// LogGroupName is the log group Lambda writes to for a function.
func LogGroupName(functionName string) string {
	return "/aws/lambda/" + functionName
}

// Tail returns the log events written by the function within opts.Since,
// oldest first, at most opts.Limit of them when a limit is set.
func (c *Client) Tail(ctx context.Context, cfg *config.FunctionConfig, opts TailOptions) ([]LogEvent, error) {
	api := c.logsFor(cfg.Region)

	input := &cw.FilterLogEventsInput{
		LogGroupName: aws.String(LogGroupName(cfg.FunctionName)),
	}
	if opts.Since > 0 {
		input.StartTime = aws.Int64(c.now().Add(-opts.Since).UnixMilli())
	}
	if opts.Filter != "" {
		input.FilterPattern = aws.String(opts.Filter)
	}

	var events []LogEvent
	for {
		if opts.Limit > 0 {
			input.Limit = aws.Int32(opts.Limit - int32(len(events)))
		}

		out, err := api.FilterLogEvents(ctx, input)
		if err != nil {
			if isAPIErrorCode(err, "ResourceNotFoundException") {
				return nil, fmt.Errorf("no logs for %s yet: %w", cfg.FunctionName, err)
			}
			return nil, fmt.Errorf("FilterLogEvents failed: %w", err)
		}

		for _, e := range out.Events {
			events = append(events, LogEvent{
				Timestamp: time.UnixMilli(aws.ToInt64(e.Timestamp)),
				Stream:    aws.ToString(e.LogStreamName),
				Message:   aws.ToString(e.Message),
			})
		}

		if out.NextToken == nil || (opts.Limit > 0 && int32(len(events)) >= opts.Limit) {
			break
		}
		input.NextToken = out.NextToken
	}

	return events, nil
}
