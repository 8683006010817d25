package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/nicolasgere/lambdaknit/lib/config"
)

// Deployment describes the function left in place by Deploy.
type Deployment struct {
	FunctionName string
	FunctionArn  string
	Version      string
	Created      bool
}

// Deploy creates the function from the archive, or updates its configuration
// and code when it already exists.
func (c *Client) Deploy(ctx context.Context, archive []byte, cfg *config.FunctionConfig) (*Deployment, error) {
	api := c.lambdaFor(cfg.Region)

	role, err := c.RoleARN(ctx, cfg.Role)
	if err != nil {
		return nil, err
	}

	_, err = api.GetFunction(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(cfg.FunctionName)})
	switch {
	case isAPIErrorCode(err, "ResourceNotFoundException"):
		return c.create(ctx, api, archive, cfg, role)
	case err != nil:
		return nil, fmt.Errorf("GetFunction failed: %w", err)
	}

	return c.update(ctx, api, archive, cfg, role)
}

func (c *Client) create(ctx context.Context, api LambdaAPI, archive []byte, cfg *config.FunctionConfig, role string) (*Deployment, error) {
	if role == "" {
		return nil, fmt.Errorf("cannot create %s: no role configured", cfg.FunctionName)
	}

	out, err := api.CreateFunction(ctx, &lambda.CreateFunctionInput{
		FunctionName: aws.String(cfg.FunctionName),
		Role:         aws.String(role),
		Handler:      aws.String(cfg.Handler),
		Runtime:      types.Runtime(cfg.Runtime),
		Code:         &types.FunctionCode{ZipFile: archive},
		MemorySize:   aws.Int32(cfg.MemorySize),
		Timeout:      aws.Int32(cfg.Timeout),
		Description:  aws.String(cfg.Description),
		Publish:      cfg.Publish,
		Environment:  environment(cfg),
		VpcConfig:    vpcConfig(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("CreateFunction failed: %w", err)
	}

	// New functions stay Pending until their resources are provisioned
	if err := c.waitForActive(ctx, api, cfg.FunctionName); err != nil {
		return nil, err
	}

	return &Deployment{
		FunctionName: cfg.FunctionName,
		FunctionArn:  aws.ToString(out.FunctionArn),
		Version:      aws.ToString(out.Version),
		Created:      true,
	}, nil
}

func (c *Client) update(ctx context.Context, api LambdaAPI, archive []byte, cfg *config.FunctionConfig, role string) (*Deployment, error) {
	input := &lambda.UpdateFunctionConfigurationInput{
		FunctionName: aws.String(cfg.FunctionName),
		Handler:      aws.String(cfg.Handler),
		Runtime:      types.Runtime(cfg.Runtime),
		MemorySize:   aws.Int32(cfg.MemorySize),
		Timeout:      aws.Int32(cfg.Timeout),
		Description:  aws.String(cfg.Description),
		Environment:  environment(cfg),
		VpcConfig:    vpcConfig(cfg),
	}
	if role != "" {
		input.Role = aws.String(role)
	}
	if _, err := api.UpdateFunctionConfiguration(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to update lambda configuration: %w", err)
	}

	// Code updates are rejected while the configuration update is in progress
	if err := c.waitForUpdate(ctx, api, cfg.FunctionName); err != nil {
		return nil, err
	}

	out, err := api.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(cfg.FunctionName),
		ZipFile:      archive,
		Publish:      cfg.Publish,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update lambda code: %w", err)
	}

	if err := c.waitForUpdate(ctx, api, cfg.FunctionName); err != nil {
		return nil, err
	}

	return &Deployment{
		FunctionName: cfg.FunctionName,
		FunctionArn:  aws.ToString(out.FunctionArn),
		Version:      aws.ToString(out.Version),
	}, nil
}

func (c *Client) waitForUpdate(ctx context.Context, api LambdaAPI, functionName string) error {
	waiter := lambda.NewFunctionUpdatedWaiter(api)
	err := waiter.Wait(ctx, &lambda.GetFunctionConfigurationInput{FunctionName: aws.String(functionName)}, c.UpdateTimeout)
	if err != nil {
		return fmt.Errorf("waiting for %s to settle: %w", functionName, err)
	}
	return nil
}

func (c *Client) waitForActive(ctx context.Context, api LambdaAPI, functionName string) error {
	waiter := lambda.NewFunctionActiveV2Waiter(api)
	err := waiter.Wait(ctx, &lambda.GetFunctionInput{FunctionName: aws.String(functionName)}, c.UpdateTimeout)
	if err != nil {
		return fmt.Errorf("waiting for %s to become active: %w", functionName, err)
	}
	return nil
}

func environment(cfg *config.FunctionConfig) *types.Environment {
	if cfg.Environment == nil {
		return nil
	}
	return &types.Environment{Variables: cfg.Environment}
}

func vpcConfig(cfg *config.FunctionConfig) *types.VpcConfig {
	if len(cfg.VPC.SubnetIds) == 0 && len(cfg.VPC.SecurityGroupIds) == 0 {
		return nil
	}
	return &types.VpcConfig{
		SubnetIds:        cfg.VPC.SubnetIds,
		SecurityGroupIds: cfg.VPC.SecurityGroupIds,
	}
}
