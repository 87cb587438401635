package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"

	"github.com/brandseal/brandseal/internal/config"
)

type S3BlobStore struct {
	client *s3.Client
	bucket string
}

func NewS3BlobStore(client *s3.Client, cfg config.Config) *S3BlobStore {
	return &S3BlobStore{client: client, bucket: cfg.Pipeline.InputBucket}
}

func (s *S3BlobStore) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	return err
}

type SFNRunner struct {
	client          *sfn.Client
	stateMachineARN string
}

func NewSFNRunner(client *sfn.Client, cfg config.Config) *SFNRunner {
	return &SFNRunner{client: client, stateMachineARN: cfg.Pipeline.StateMachineARN}
}

// Start begins one state-machine execution. Execution names are unique per
// state machine, which is what makes duplicate dispatches detectable.
func (r *SFNRunner) Start(ctx context.Context, name string, input ExecutionInput) error {
	payload, err := json.Marshal(input)
	if err != nil {
		return err
	}
	_, err = r.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(r.stateMachineARN),
		Name:            aws.String(name),
		Input:           aws.String(string(payload)),
	})
	if err != nil {
		var exists *sfntypes.ExecutionAlreadyExists
		if errors.As(err, &exists) {
			return ErrAlreadyStarted
		}
		return err
	}
	return nil
}

type LambdaRemovalRunner struct {
	client   *lambda.Client
	function string
}

func NewLambdaRemovalRunner(client *lambda.Client, cfg config.Config) *LambdaRemovalRunner {
	return &LambdaRemovalRunner{client: client, function: cfg.Pipeline.RemovalFunction}
}

// Invoke fires the removal function asynchronously; completion comes back via
// the removal callback endpoint.
func (r *LambdaRemovalRunner) Invoke(ctx context.Context, req RemovalRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = r.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(r.function),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        payload,
	})
	return err
}
