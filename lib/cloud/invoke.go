package cloud

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/nicolasgere/lambdaknit/lib/config"
)

// Invocation is the decoded answer of a synchronous invocation.
type Invocation struct {
	StatusCode      int32
	ExecutedVersion string
	// FunctionError is set when the handler failed, Payload then holds the
	// error document.
	FunctionError string
	Payload       any
	RawPayload    []byte
	// Log is the decoded tail of the execution log.
	Log string
}

// Invoke runs the function synchronously with payload and returns its response
// together with the tail of its execution log.
func (c *Client) Invoke(ctx context.Context, cfg *config.FunctionConfig, payload []byte) (*Invocation, error) {
	out, err := c.lambdaFor(cfg.Region).Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(cfg.FunctionName),
		InvocationType: types.InvocationTypeRequestResponse,
		LogType:        types.LogTypeTail,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("Invoke failed: %w", err)
	}

	inv := &Invocation{
		StatusCode:      out.StatusCode,
		ExecutedVersion: aws.ToString(out.ExecutedVersion),
		FunctionError:   aws.ToString(out.FunctionError),
		RawPayload:      out.Payload,
	}

	if len(out.Payload) > 0 {
		if err := json.Unmarshal(out.Payload, &inv.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode response payload: %w", err)
		}
	}

	if out.LogResult != nil {
		logTail, err := base64.StdEncoding.DecodeString(*out.LogResult)
		if err != nil {
			return nil, fmt.Errorf("failed to decode log result: %w", err)
		}
		inv.Log = string(logTail)
	}

	return inv, nil
}
