package db

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/ukydev/fleet-location-simulator/internal/models"
    "go.mongodb.org/mongo-driver/bson"
    "go.mongodb.org/mongo-driver/bson/primitive"
    "go.mongodb.org/mongo-driver/mongo"
    "go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectMongo connects to MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
    client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
    if err != nil {
        return nil, fmt.Errorf("mongo.Connect error: %w", err)
    }
    pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
    defer cancel()
    if err := client.Ping(pingCtx, nil); err != nil {
        _ = client.Disconnect(context.Background())
        return nil, fmt.Errorf("mongo.Ping error: %w", err)
    }
    return client, nil
}

// MongoCollection wraps the vehicles collection.
type MongoCollection struct {
    Collection *mongo.Collection
}

// idFilter matches vehicles stored either with an ObjectID or a plain string id.
func idFilter(id string) bson.M {
    if oid, err := primitive.ObjectIDFromHex(id); err == nil {
        return bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
    }
    return bson.M{"_id": id}
}

// FindVehicleByID finds a vehicle by its ID.
func (c *MongoCollection) FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error) {
    if c.Collection == nil {
        return nil, fmt.Errorf("mongo collection is nil")
    }

    var vehicle models.Vehicle
    err := c.Collection.FindOne(ctx, idFilter(id)).Decode(&vehicle)
    if err != nil {
        if errors.Is(err, mongo.ErrNoDocuments) {
            return nil, fmt.Errorf("vehicle %s: %w", id, models.ErrVehicleNotFound)
        }
        return nil, err
    }
    if vehicle.ID == "" {
        vehicle.ID = id
    }

    return &vehicle, nil
}

// UpdateVehicleLocation sets the current location of a vehicle.
func (c *MongoCollection) UpdateVehicleLocation(ctx context.Context, id string, lat, lng float64) error {
    if c.Collection == nil {
        return fmt.Errorf("mongo collection is nil")
    }

    update := bson.M{"$set": bson.M{
        "current_location": models.Location{Lat: lat, Lng: lng},
        "updated_at":       time.Now(),
    }}
    result, err := c.Collection.UpdateOne(ctx, idFilter(id), update)
    if err != nil {
        return err
    }

    if result.MatchedCount == 0 {
        return fmt.Errorf("vehicle %s: %w", id, models.ErrVehicleNotFound)
    }

    return nil
}

// PositionHistory wraps the append-only positions collection.
type PositionHistory struct {
    Collection *mongo.Collection
}

// InsertPosition appends a position sample.
func (c *PositionHistory) InsertPosition(ctx context.Context, position models.Position) error {
    if c.Collection == nil {
        return fmt.Errorf("mongo collection is nil")
    }
    if position.Timestamp.IsZero() {
        position.Timestamp = time.Now()
    }
    _, err := c.Collection.InsertOne(ctx, position)
    return err
}

// FindPositions returns the latest positions of a vehicle, newest first.
func (c *PositionHistory) FindPositions(ctx context.Context, vehicleID string, limit int64) ([]models.Position, error) {
    if c.Collection == nil {
        return nil, fmt.Errorf("mongo collection is nil")
    }

    opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
    if limit > 0 {
        opts.SetLimit(limit)
    }
    cursor, err := c.Collection.Find(ctx, bson.M{"vehicle_id": vehicleID}, opts)
    if err != nil {
        return nil, err
    }
    defer cursor.Close(ctx)

    var positions []models.Position
    if err := cursor.All(ctx, &positions); err != nil {
        return nil, err
    }
    return positions, nil
}

// LocationSink records pushed positions: the vehicle's current location is
// updated and the sample is appended to the history.
type LocationSink struct {
    Vehicles VehicleCollection
    History  PositionCollection
}

// UpdateVehicleLocation implements the simulator's sink contract.
func (s *LocationSink) UpdateVehicleLocation(ctx context.Context, id string, lat, lng float64) error {
    if err := s.Vehicles.UpdateVehicleLocation(ctx, id, lat, lng); err != nil {
        return fmt.Errorf("update vehicle: %w", err)
    }
    if s.History == nil {
        return nil
    }
    pos := models.Position{VehicleID: id, Location: models.Location{Lat: lat, Lng: lng}, Timestamp: time.Now()}
    if err := s.History.InsertPosition(ctx, pos); err != nil {
        return fmt.Errorf("insert position: %w", err)
    }
    return nil
}

// VehicleDirectory serves vehicle metadata to the simulator from a collection.
type VehicleDirectory struct {
    Vehicles VehicleCollection
}

func (d VehicleDirectory) GetVehicleByID(ctx context.Context, id string) (*models.Vehicle, error) {
    return d.Vehicles.FindVehicleByID(ctx, id)
}
