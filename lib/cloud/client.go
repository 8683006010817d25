// Package cloud talks to AWS Lambda on behalf of the orchestrator: it deploys
// archives, invokes functions and reads their CloudWatch logs.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cw "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

// LambdaAPI is the part of the Lambda client used here.
type LambdaAPI interface {
	GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error)
	GetFunctionConfiguration(ctx context.Context, params *lambda.GetFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error)
	CreateFunction(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error)
	UpdateFunctionCode(ctx context.Context, params *lambda.UpdateFunctionCodeInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionCodeOutput, error)
	UpdateFunctionConfiguration(ctx context.Context, params *lambda.UpdateFunctionConfigurationInput, optFns ...func(*lambda.Options)) (*lambda.UpdateFunctionConfigurationOutput, error)
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LogsAPI is the part of the CloudWatch Logs client used here.
type LogsAPI interface {
	FilterLogEvents(ctx context.Context, params *cw.FilterLogEventsInput, optFns ...func(*cw.Options)) (*cw.FilterLogEventsOutput, error)
}

// IdentityAPI resolves the caller account.
type IdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type Options struct {
	// Profile selects a shared config profile, the default chain is used when empty.
	Profile string
	// Region of the loaded AWS configuration, used for STS. Lambda and Logs
	// calls go to the region resolved for each function.
	Region string
}

// Client holds the AWS clients. Lambda and Logs clients are built per
// function region.
type Client struct {
	lambdaFor func(region string) LambdaAPI
	logsFor   func(region string) LogsAPI
	identity  IdentityAPI

	// UpdateTimeout bounds the wait for a function to settle after a create or
	// an update.
	UpdateTimeout time.Duration

	now func() time.Time

	accountOnce sync.Once
	accountID   string
	accountErr  error
}

// New loads the AWS configuration once and returns a client built from it.
func New(ctx context.Context, opts Options) (*Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if strings.TrimSpace(opts.Region) != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if strings.TrimSpace(opts.Profile) != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return NewWithAPIs(
		func(region string) LambdaAPI {
			return lambda.NewFromConfig(cfg, func(o *lambda.Options) {
				if region != "" {
					o.Region = region
				}
			})
		},
		func(region string) LogsAPI {
			return cw.NewFromConfig(cfg, func(o *cw.Options) {
				if region != "" {
					o.Region = region
				}
			})
		},
		sts.NewFromConfig(cfg),
	), nil
}

// NewWithAPIs builds a client from explicit API implementations.
func NewWithAPIs(lambdaFor func(region string) LambdaAPI, logsFor func(region string) LogsAPI, identity IdentityAPI) *Client {
	return &Client{
		lambdaFor:     lambdaFor,
		logsFor:       logsFor,
		identity:      identity,
		UpdateTimeout: 2 * time.Minute,
		now:           time.Now,
	}
}

// RoleARN expands a bare role name into an IAM role ARN of the caller
// account. Full ARNs and empty roles are returned untouched.
func (c *Client) RoleARN(ctx context.Context, role string) (string, error) {
	if role == "" || strings.HasPrefix(role, "arn:") {
		return role, nil
	}

	c.accountOnce.Do(func() {
		out, err := c.identity.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			c.accountErr = fmt.Errorf("getting account ID: %w", err)
			return
		}
		c.accountID = aws.ToString(out.Account)
	})
	if c.accountErr != nil {
		return "", c.accountErr
	}

	return fmt.Sprintf("arn:aws:iam::%s:role/%s", c.accountID, strings.TrimPrefix(role, "role/")), nil
}

// isAPIErrorCode checks smithy APIError code
func isAPIErrorCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == code
	}
	return false
}
