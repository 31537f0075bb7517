package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/tcmartin/flowconsole/pkg/models"
)

// DynamoDBConfig contains configuration for the DynamoDB lock store
type DynamoDBConfig struct {
	Region      string
	AccessKey   string
	SecretKey   string
	TablePrefix string
	Endpoint    string // Optional, for local DynamoDB
}

// dynamoLockItem is the item layout of the locks table
type dynamoLockItem struct {
	TreeID     string `dynamodbav:"TreeID"`
	SessionID  string `dynamodbav:"SessionID"`
	UserID     string `dynamodbav:"UserID"`
	AcquiredAt int64  `dynamodbav:"AcquiredAt"`
}

func (i dynamoLockItem) lock() *models.TreeLock {
	return &models.TreeLock{
		TreeID:     i.TreeID,
		SessionID:  i.SessionID,
		UserID:     i.UserID,
		AcquiredAt: time.Unix(0, i.AcquiredAt).UTC(),
	}
}

// DynamoDBLockStore implements the LockStore interface using DynamoDB
// conditional writes on a table keyed by TreeID
type DynamoDBLockStore struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

// NewDynamoDBLockStore creates a lock store with its own AWS session
func NewDynamoDBLockStore(config DynamoDBConfig) (*DynamoDBLockStore, error) {
	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}

	// Set credentials if provided
	if config.AccessKey != "" && config.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"",
		)
	}

	// Set endpoint for local DynamoDB if provided
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewDynamoDBLockStoreWithClient(dynamodb.New(sess), config.TablePrefix), nil
}

// NewDynamoDBLockStoreWithClient creates a lock store with a custom client
// This is primarily used for testing with mock clients
func NewDynamoDBLockStoreWithClient(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBLockStore {
	return &DynamoDBLockStore{
		client:    client,
		tableName: tablePrefix + "tree_locks",
	}
}

// Initialize creates the locks table if it doesn't exist
func (s *DynamoDBLockStore) Initialize() error {
	_, err := s.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err == nil {
		return nil
	}

	var aerr awserr.Error
	if !errors.As(err, &aerr) || aerr.Code() != dynamodb.ErrCodeResourceNotFoundException {
		return fmt.Errorf("failed to check if table exists: %w", err)
	}

	_, err = s.client.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("TreeID"),
				AttributeType: aws.String("S"),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("TreeID"),
				KeyType:       aws.String("HASH"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	err = s.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return fmt.Errorf("failed to wait for table creation: %w", err)
	}

	return nil
}

// Close is a no-op for the DynamoDB client
func (s *DynamoDBLockStore) Close() error {
	return nil
}

func (s *DynamoDBLockStore) itemKey(treeID string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"TreeID": {S: aws.String(treeID)},
	}
}

// GetLock returns the current lock of a tree
func (s *DynamoDBLockStore) GetLock(treeID string) (*models.TreeLock, error) {
	result, err := s.client.GetItem(&dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.itemKey(treeID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}
	if len(result.Item) == 0 {
		return nil, nil
	}

	var item dynamoLockItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}
	return item.lock(), nil
}

// AcquireLock writes the lock when the tree is unlocked or held by the same session
func (s *DynamoDBLockStore) AcquireLock(lock models.TreeLock) (*models.TreeLock, error) {
	if err := validateLock(lock); err != nil {
		return nil, err
	}
	if lock.AcquiredAt.IsZero() {
		lock.AcquiredAt = time.Now()
	}

	av, err := dynamodbattribute.MarshalMap(dynamoLockItem{
		TreeID:     lock.TreeID,
		SessionID:  lock.SessionID,
		UserID:     lock.UserID,
		AcquiredAt: lock.AcquiredAt.UnixNano(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	_, err = s.client.PutItem(&dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(TreeID) OR SessionID = :sid"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":sid": {S: aws.String(lock.SessionID)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			holder, getErr := s.GetLock(lock.TreeID)
			if getErr != nil {
				return nil, getErr
			}
			return holder, ErrLockHeld
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	return &lock, nil
}

// ReleaseLock deletes the lock when sessionID holds it
func (s *DynamoDBLockStore) ReleaseLock(treeID, sessionID string) error {
	_, err := s.client.DeleteItem(&dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 s.itemKey(treeID),
		ConditionExpression: aws.String("SessionID = :sid"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":sid": {S: aws.String(sessionID)},
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}
