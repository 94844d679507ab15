package utils

import (
	"context"
	"log"
	"time"

	"dentsim/db"
	"dentsim/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SeedPatientCases upserts the case catalog into MongoDB so dashboards can
// list available scenarios. The in-memory catalog stays authoritative.
func SeedPatientCases(cases []models.PatientCase) {
	if db.CaseCollection == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, c := range cases {
		filter := bson.M{"id": c.ID}
		update := bson.M{"$set": c}
		opts := options.Update().SetUpsert(true)
		if _, err := db.CaseCollection.UpdateOne(ctx, filter, update, opts); err != nil {
			log.Printf("Failed to seed case %s: %v", c.ID, err)
		}
	}
	log.Printf("Seeded %d patient cases", len(cases))
}
