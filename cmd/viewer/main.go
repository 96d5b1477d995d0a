// Viewer is a read-only inspector for the chat database. It opens Badger
// with BypassLockGuard so it can run while the server holds the lock, and
// renders rooms and messages as tables.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
)

type Config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" default:"/tmp/chat-rooms/badger"`
	// VIEWER_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"VIEWER_COLOURS" default:"true"`
}

type diskRoom struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type diskMessage struct {
	ID      string `json:"id"`
	Room    string `json:"room"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
	At      int64  `json:"at"`
	IsRead  bool   `json:"is_read"`
}

func main() {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		log.Fatalf("Config error: %v", err)
	}
	color.Enable = config.Colours

	room := flag.String("room", "", "Only show messages of this room ID")
	flag.Parse()

	// BypassLockGuard allows opening while the server process holds the lock
	opts := badger.DefaultOptions(config.BadgerFilepath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	color.Green.Println("Rooms")
	if err := renderRooms(db); err != nil {
		log.Fatal(err)
	}

	color.Green.Println("\nMessages")
	if err := renderMessages(db, *room); err != nil {
		log.Fatal(err)
	}
}

func newTable(headers []string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func renderRooms(db *badger.DB) error {
	table := newTable([]string{"ID", "Kind", "Name", "Members"})
	err := scan(db, "room:", func(value []byte) error {
		var record diskRoom
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		table.Append([]string{
			shortID(record.ID),
			record.Kind,
			record.Name,
			strings.Join(shortIDs(record.Members), " "),
		})
		return nil
	})
	if err != nil {
		return err
	}
	table.Render()
	return nil
}

func renderMessages(db *badger.DB, room string) error {
	prefix := "msg:"
	if room != "" {
		prefix = fmt.Sprintf("msg:%s:", room)
	}

	table := newTable([]string{"Timestamp", "Room", "Sender", "Read", "Content"})
	err := scan(db, prefix, func(value []byte) error {
		var record diskMessage
		if err := json.Unmarshal(value, &record); err != nil {
			return err
		}
		read := ""
		if record.IsRead {
			read = "✓"
		}
		table.Append([]string{
			time.Unix(0, record.At).UTC().Format("02/01 15:04:05"),
			shortID(record.Room),
			shortID(record.Sender),
			read,
			record.Content,
		})
		return nil
	})
	if err != nil {
		return err
	}
	table.Render()
	return nil
}

func scan(db *badger.DB, prefix string, visit func(value []byte) error) error {
	return db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				if err := visit(v); err != nil {
					// Log and keep scanning instead of aborting the whole dump
					fmt.Printf("Error decoding key %s: %v\n", string(it.Item().Key()), err)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// shortID keeps the first 8 characters of an ID for readability.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shortIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, shortID(id))
	}
	return out
}
