package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Agent struct {
	AgentID         string     `gorm:"type:text;primaryKey"`
	User            string     `gorm:"type:text;not null;default:''"`
	Hostname        string     `gorm:"type:text;not null;default:''"`
	LastSeen        *time.Time `gorm:"type:timestamptz"`
	ActiveTaskID    *string    `gorm:"type:text"`
	TaskSince       *time.Time `gorm:"type:timestamptz"`
	IsAppRunning    bool       `gorm:"not null;default:false"`
	IsAppForeground bool       `gorm:"not null;default:false"`
	CPU5m           float64    `gorm:"column:cpu_5m;type:double precision;not null;default:0"`
	IdleMinutes     float64    `gorm:"type:double precision;not null;default:0"`
	OSVersion       string     `gorm:"column:os_version;type:text;not null;default:''"`
	AppVersion      string     `gorm:"type:text;not null;default:''"`
	LastActiveTS    *time.Time `gorm:"column:last_active_ts;type:timestamptz"`
	InactiveAlerted bool       `gorm:"not null;default:false"`
	RegisteredAt    time.Time  `gorm:"type:timestamptz;not null;default:now()"`
}

type Heartbeat struct {
	ID              int64     `gorm:"type:bigserial;primaryKey"`
	AgentID         string    `gorm:"type:text;not null;index:idx_heartbeats_agent_created,priority:1"`
	IsAppRunning    bool      `gorm:"not null;default:false"`
	IsAppForeground bool      `gorm:"not null;default:false"`
	AppVersion      string    `gorm:"type:text;not null;default:''"`
	OSVersion       string    `gorm:"column:os_version;type:text;not null;default:''"`
	ActiveTaskID    *string   `gorm:"type:text"`
	CPU5m           float64   `gorm:"column:cpu_5m;type:double precision;not null;default:0"`
	IdleMinutes     float64   `gorm:"type:double precision;not null;default:0"`
	CreatedAt       time.Time `gorm:"type:timestamptz;not null;default:now();index;index:idx_heartbeats_agent_created,priority:2"`
}

type Event struct {
	ID        int64             `gorm:"type:bigserial;primaryKey"`
	UID       *string           `gorm:"column:uid;type:uuid;uniqueIndex"`
	AgentID   string            `gorm:"type:text;not null;index"`
	Type      string            `gorm:"type:text;not null"`
	TaskID    *string           `gorm:"type:text"`
	Meta      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now()"`
}

type Order struct {
	ID                int64             `gorm:"type:bigserial;primaryKey"`
	CustomerName      string            `gorm:"type:text;not null"`
	CustomerEmail     string            `gorm:"type:text;not null"`
	CustomerPhone     string            `gorm:"type:text;not null;default:''"`
	Category          string            `gorm:"type:text;not null"`
	Design            string            `gorm:"type:text;not null;default:''"`
	Stone             string            `gorm:"type:text;not null;default:''"`
	Metal             string            `gorm:"type:text;not null"`
	Size              *float64          `gorm:"type:double precision"`
	Price             *float64          `gorm:"type:double precision"`
	Instructions      string            `gorm:"type:text;not null;default:''"`
	CanonicalFilename string            `gorm:"type:text;not null"`
	ExternalTaskRef   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt         time.Time         `gorm:"type:timestamptz;not null;default:now();index"`
}

type Suggestion struct {
	ID       int64  `gorm:"type:bigserial;primaryKey"`
	OrderID  int64  `gorm:"not null;index"`
	Rank     int    `gorm:"not null;default:0"`
	Filename string `gorm:"type:text;not null;default:''"`
	Path     string `gorm:"type:text;not null;default:''"`
	Size     int64  `gorm:"not null;default:0"`
	Score    int    `gorm:"not null;default:0"`
	TempLink string `gorm:"type:text;not null;default:''"`
	Order    Order  `gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Assignment struct {
	ID        int64     `gorm:"type:bigserial;primaryKey"`
	OrderID   int64     `gorm:"not null;index"`
	AgentID   string    `gorm:"type:text;not null;index"`
	TaskID    string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();index"`
}

func openTx(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Agent{},
		&Heartbeat{},
		&Event{},
		&Order{},
		&Suggestion{},
		&Assignment{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if !m.HasConstraint(&Suggestion{}, "Order") {
		if err := m.CreateConstraint(&Suggestion{}, "Order"); err != nil {
			return err
		}
	}
	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Assignment{},
		&Suggestion{},
		&Order{},
		&Event{},
		&Heartbeat{},
		&Agent{},
	)
}
