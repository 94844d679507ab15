package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"dentsim/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var MongoClient *mongo.Client
var MongoDatabase *mongo.Database
var EncounterCollection *mongo.Collection
var UnrecognizedCollection *mongo.Collection
var CaseCollection *mongo.Collection

// ErrNotConnected is returned by write helpers when the process runs without
// a database. Transcripts are best-effort; callers treat this as a no-op.
var ErrNotConnected = errors.New("database not initialized")

// extractDBName parses the database name from the URI, defaulting to "dentsim"
func extractDBName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "dentsim"
	}
	if u.Path != "" && u.Path != "/" {
		return u.Path[1:] // Trim leading '/'
	}
	return "dentsim"
}

// ConnectMongoDB establishes a connection to MongoDB using the provided URI
func ConnectMongoDB(uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Verify connection with a ping
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	MongoClient = client
	dbName := extractDBName(uri)
	log.Printf("Using database: %s", dbName)

	MongoDatabase = client.Database(dbName)
	EncounterCollection = MongoDatabase.Collection("encounter_turns")
	UnrecognizedCollection = MongoDatabase.Collection("unrecognized_actions")
	CaseCollection = MongoDatabase.Collection("patient_cases")
	return nil
}

// SaveEncounterTurn persists one completed turn for transcript review.
func SaveEncounterTurn(turn models.EncounterTurn) error {
	if EncounterCollection == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := EncounterCollection.InsertOne(ctx, turn)
	if err != nil {
		return fmt.Errorf("failed to save encounter turn: %w", err)
	}
	return nil
}

// LogUnrecognizedAction records an action type with no matching rules. The
// record is analytics-only and never read back into scenario state.
func LogUnrecognizedAction(sessionID, actionType, studentText string) error {
	if UnrecognizedCollection == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := UnrecognizedCollection.InsertOne(ctx, bson.M{
		"sessionId":   sessionID,
		"actionType":  actionType,
		"studentText": studentText,
		"createdAt":   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to log unrecognized action: %w", err)
	}
	return nil
}

// GetSessionTranscript returns the saved turns of a session in turn order.
func GetSessionTranscript(sessionID string) ([]models.EncounterTurn, error) {
	if EncounterCollection == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.M{"turn": 1})
	cursor, err := EncounterCollection.Find(ctx, bson.M{"sessionId": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find transcript: %w", err)
	}
	defer cursor.Close(ctx)

	var turns []models.EncounterTurn
	if err = cursor.All(ctx, &turns); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return turns, nil
}
