package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/atomgrid/atomgrid/blobstore"
)

// ErrConcurrentCommit is returned when another publisher advanced the
// CURRENT pointer first. The caller re-reads and retries.
var ErrConcurrentCommit = errors.New("concurrent snapshot commit detected")

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// CommitStore publishes snapshots to S3 and advances a CURRENT pointer with
// DynamoDB conditional writes. S3 alone has no compare-and-swap, so the
// pointer record is what makes publication atomic under concurrent writers.
//
/// Table schema: partition key base_uri (S), attributes version (N) and
// snapshot (S). One item per store; the conditional write requires the
// stored version to equal the version the publisher read.
type CommitStore struct {
	*Store
	ddb       DDBClient
	tableName string
	baseURI   string
}

// NewCommitStore wraps an S3 store with the commit pointer table.
func NewCommitStore(store *Store, ddb DDBClient, tableName, baseURI string) *CommitStore {
	return &CommitStore{
		Store:     store,
		ddb:       ddb,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Current returns the currently published snapshot name and its commit
// version. blobstore.ErrNotFound means nothing has been published yet.
func (c *CommitStore) Current(ctx context.Context) (string, int64, error) {
	out, err := c.ddb.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: c.baseURI},
		},
	})
	if err != nil {
		return "", 0, err
	}
	if out.Item == nil {
		return "", 0, blobstore.ErrNotFound
	}

	name, ok := out.Item["snapshot"].(*types.AttributeValueMemberS)
	if !ok {
		return "", 0, fmt.Errorf("commit record for %q has no snapshot attribute", c.baseURI)
	}
	versionAttr, ok := out.Item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return "", 0, fmt.Errorf("commit record for %q has no version attribute", c.baseURI)
	}
	version, err := strconv.ParseInt(versionAttr.Value, 10, 64)
	if err != nil {
		return "", 0, err
	}
	return name.Value, version, nil
}

// Publish uploads the snapshot blob and atomically advances CURRENT from
// expectedVersion to expectedVersion+1. Use expectedVersion 0 for the first
// publication. A losing race returns ErrConcurrentCommit and leaves the
// previous pointer intact; the uploaded blob is harmless garbage.
func (c *CommitStore) Publish(ctx context.Context, name string, data []byte, expectedVersion int64) (int64, error) {
	if err := c.Store.Put(ctx, name, data); err != nil {
		return 0, err
	}

	next := expectedVersion + 1
	item := map[string]types.AttributeValue{
		"base_uri": &types.AttributeValueMemberS{Value: c.baseURI},
		"version":  &types.AttributeValueMemberN{Value: strconv.FormatInt(next, 10)},
		"snapshot": &types.AttributeValueMemberS{Value: name},
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}
	if expectedVersion == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(base_uri)")
	} else {
		input.ConditionExpression = aws.String("version = :expected")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		}
	}

	_, err := c.ddb.PutItem(ctx, input)
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return 0, ErrConcurrentCommit
		}
		return 0, err
	}
	return next, nil
}
