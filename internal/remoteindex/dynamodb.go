package remoteindex

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"coldbackup/internal/engine"
	"coldbackup/internal/model"
)

// DynamoConfig is the subset of connection details the DynamoDB remote
// index needs. Region and credentials otherwise come from the default
// AWS SDK chain.
type DynamoConfig struct {
	Table    string
	Region   string
	Endpoint string // non-empty for local/compatible endpoints (DynamoDB Local)
}

// dynamoRecord is the wire shape of a RemoteHashRecord, matching the
// hash/file_names/expiration layout the spec defines as wire-compatible.
// file_names is stored as a DynamoDB string set. Expiration is stored as
// epoch seconds, 0 meaning unset.
type dynamoRecord struct {
	Hash       string   `dynamodbav:"hash"`
	FileNames  []string `dynamodbav:"file_names,stringset"`
	Expiration int64    `dynamodbav:"expiration"`
}

// Dynamo is the production RemoteIndex, backed by a DynamoDB table keyed
// by hash.
type Dynamo struct {
	client *dynamodb.Client
	table  string
}

var _ engine.RemoteIndex = (*Dynamo)(nil)

// NewDynamo builds a Dynamo remote index from cfg.
func NewDynamo(ctx context.Context, cfg DynamoConfig) (*Dynamo, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &engine.FatalError{Err: err}
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &Dynamo{client: client, table: cfg.Table}, nil
}

func (d *Dynamo) Get(ctx context.Context, hash string) (model.RemoteHashRecord, bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"hash": &types.AttributeValueMemberS{Value: hash},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.RemoteHashRecord{}, false, classifyDynamo("dynamodb.getitem", err)
	}
	if len(out.Item) == 0 {
		return model.RemoteHashRecord{}, false, nil
	}

	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return model.RemoteHashRecord{}, false, &engine.PermanentRemoteError{Op: "dynamodb.unmarshal", Err: err}
	}
	return toModel(rec), true, nil
}

func (d *Dynamo) Put(ctx context.Context, rec model.RemoteHashRecord) error {
	item, err := attributevalue.MarshalMap(fromModel(rec))
	if err != nil {
		return &engine.PermanentRemoteError{Op: "dynamodb.marshal", Err: err}
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	})
	if err != nil {
		return classifyDynamo("dynamodb.putitem", err)
	}
	return nil
}

func (d *Dynamo) Delete(ctx context.Context, hash string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key: map[string]types.AttributeValue{
			"hash": &types.AttributeValueMemberS{Value: hash},
		},
	})
	if err != nil {
		return classifyDynamo("dynamodb.deleteitem", err)
	}
	return nil
}

// Scan paginates the full table. DynamoDB scans are eventually
// consistent and unordered; callers (Reaper, Restorer) don't depend on
// ordering.
func (d *Dynamo) Scan(ctx context.Context, fn func(model.RemoteHashRecord) error) error {
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName: aws.String(d.table),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return classifyDynamo("dynamodb.scan", err)
		}
		for _, item := range page.Items {
			var rec dynamoRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return &engine.PermanentRemoteError{Op: "dynamodb.unmarshal", Err: err}
			}
			if err := fn(toModel(rec)); err != nil {
				return err
			}
		}
	}
	return nil
}

func toModel(rec dynamoRecord) model.RemoteHashRecord {
	out := model.RemoteHashRecord{Hash: rec.Hash, FileNames: rec.FileNames}
	if rec.Expiration != 0 {
		out.Expiration = timeFromEpoch(rec.Expiration)
	}
	return out
}

func fromModel(rec model.RemoteHashRecord) dynamoRecord {
	out := dynamoRecord{Hash: rec.Hash, FileNames: rec.FileNames}
	if !rec.Expiration.IsZero() {
		out.Expiration = epochFromTime(rec.Expiration)
	}
	return out
}

func classifyDynamo(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded", "InternalServerError":
			return &engine.TransientRemoteError{Op: op, Err: err}
		}
	}
	return &engine.PermanentRemoteError{Op: op, Err: fmt.Errorf("%s: %w", op, err)}
}
