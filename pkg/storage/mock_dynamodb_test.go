package storage

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

var (
	useRealDynamoDB = flag.Bool("real-dynamodb", false, "Use real DynamoDB for tests instead of mock")
)

// MockDynamoDBAPI implements the parts of dynamodbiface.DynamoDBAPI the lock store uses
type MockDynamoDBAPI struct {
	dynamodbiface.DynamoDBAPI
	mu     sync.RWMutex
	tables map[string]*MockTable
}

// MockTable represents a DynamoDB table in memory
type MockTable struct {
	Name      string
	Items     map[string]map[string]*dynamodb.AttributeValue
	KeySchema []*dynamodb.KeySchemaElement
}

// NewMockDynamoDBAPI creates a new mock DynamoDB client
func NewMockDynamoDBAPI() *MockDynamoDBAPI {
	return &MockDynamoDBAPI{
		tables: make(map[string]*MockTable),
	}
}

// CreateTable creates a mock table
func (m *MockDynamoDBAPI) CreateTable(input *dynamodb.CreateTableInput) (*dynamodb.CreateTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tableName := aws.StringValue(input.TableName)
	if _, exists := m.tables[tableName]; exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceInUseException, "table already exists: "+tableName, nil)
	}

	m.tables[tableName] = &MockTable{
		Name:      tableName,
		Items:     make(map[string]map[string]*dynamodb.AttributeValue),
		KeySchema: input.KeySchema,
	}

	return &dynamodb.CreateTableOutput{
		TableDescription: &dynamodb.TableDescription{
			TableName:   input.TableName,
			TableStatus: aws.String("ACTIVE"),
		},
	}, nil
}

// DescribeTable describes a mock table
func (m *MockDynamoDBAPI) DescribeTable(input *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, exists := m.tables[aws.StringValue(input.TableName)]
	if !exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "Requested resource not found", nil)
	}

	return &dynamodb.DescribeTableOutput{
		Table: &dynamodb.TableDescription{
			TableName:   aws.String(table.Name),
			TableStatus: aws.String("ACTIVE"),
			KeySchema:   table.KeySchema,
		},
	}, nil
}

// DeleteTable deletes a mock table
func (m *MockDynamoDBAPI) DeleteTable(input *dynamodb.DeleteTableInput) (*dynamodb.DeleteTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tableName := aws.StringValue(input.TableName)
	if _, exists := m.tables[tableName]; !exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "table not found: "+tableName, nil)
	}
	delete(m.tables, tableName)

	return &dynamodb.DeleteTableOutput{}, nil
}

// WaitUntilTableExists returns immediately; mock tables are created active
func (m *MockDynamoDBAPI) WaitUntilTableExists(input *dynamodb.DescribeTableInput) error {
	return nil
}

// WaitUntilTableNotExists returns immediately
func (m *MockDynamoDBAPI) WaitUntilTableNotExists(input *dynamodb.DescribeTableInput) error {
	return nil
}

// PutItem puts an item in a mock table, honoring the condition expression
func (m *MockDynamoDBAPI) PutItem(input *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	key := m.generateKey(table.KeySchema, input.Item)
	if !evalCondition(input.ConditionExpression, input.ExpressionAttributeValues, table.Items[key]) {
		return nil, awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
	}

	table.Items[key] = input.Item
	return &dynamodb.PutItemOutput{}, nil
}

// GetItem gets an item from a mock table
func (m *MockDynamoDBAPI) GetItem(input *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	item, exists := table.Items[m.generateKey(table.KeySchema, input.Key)]
	if !exists {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

// DeleteItem deletes an item from a mock table, honoring the condition expression
func (m *MockDynamoDBAPI) DeleteItem(input *dynamodb.DeleteItemInput) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	key := m.generateKey(table.KeySchema, input.Key)
	if !evalCondition(input.ConditionExpression, input.ExpressionAttributeValues, table.Items[key]) {
		return nil, awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
	}

	delete(table.Items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *MockDynamoDBAPI) table(name *string) (*MockTable, error) {
	table, exists := m.tables[aws.StringValue(name)]
	if !exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "table not found: "+aws.StringValue(name), nil)
	}
	return table, nil
}

// generateKey generates a composite key from key schema and item attributes
func (m *MockDynamoDBAPI) generateKey(keySchema []*dynamodb.KeySchemaElement, item map[string]*dynamodb.AttributeValue) string {
	var keyParts []string
	for _, keyElement := range keySchema {
		if attr, exists := item[aws.StringValue(keyElement.AttributeName)]; exists {
			if attr.S != nil {
				keyParts = append(keyParts, aws.StringValue(attr.S))
			} else if attr.N != nil {
				keyParts = append(keyParts, aws.StringValue(attr.N))
			}
		}
	}
	return strings.Join(keyParts, "#")
}

// evalCondition supports OR-joined clauses of the forms
// attribute_not_exists(Name) and Name = :value
func evalCondition(expr *string, values map[string]*dynamodb.AttributeValue, item map[string]*dynamodb.AttributeValue) bool {
	if expr == nil {
		return true
	}

	for _, clause := range strings.Split(aws.StringValue(expr), " OR ") {
		clause = strings.TrimSpace(clause)
		if strings.HasPrefix(clause, "attribute_not_exists(") {
			name := strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_not_exists("), ")")
			if _, ok := item[name]; !ok {
				return true
			}
			continue
		}

		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			continue
		}
		attr, ok := item[strings.TrimSpace(parts[0])]
		want, wok := values[strings.TrimSpace(parts[1])]
		if ok && wok && aws.StringValue(attr.S) == aws.StringValue(want.S) {
			return true
		}
	}
	return false
}

// GetTestDynamoDBClient returns a real client with -real-dynamodb, the mock otherwise
func GetTestDynamoDBClient() (dynamodbiface.DynamoDBAPI, error) {
	if *useRealDynamoDB {
		awsConfig := &aws.Config{
			Region: aws.String("us-east-1"),
		}

		accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
		if accessKey != "" && secretKey != "" {
			awsConfig.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
		}

		if endpoint := os.Getenv("DYNAMODB_ENDPOINT"); endpoint != "" {
			awsConfig.Endpoint = aws.String(endpoint)
		}

		sess, err := session.NewSession(awsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS session: %w", err)
		}

		return dynamodb.New(sess), nil
	}

	return NewMockDynamoDBAPI(), nil
}
