// Package export writes a channel's videos and consolidated tags to an
// Excel workbook.
package export

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/zombar/videotagger/internal/slug"
	"github.com/zombar/videotagger/internal/storage"
)

// Store reads the records a workbook is built from
type Store interface {
	GetChannel(ctx context.Context, channelID string) (*storage.Channel, error)
	ListChannelVideos(ctx context.Context, channelID string) ([]*storage.Video, error)
	GetVideoTags(ctx context.Context, videoID string) ([]string, error)
}

const (
	channelSheet = "Channel"
	tagsSheet    = "Tags"
)

var videoHeader = []interface{}{
	"Video ID", "Title", "Duration", "Views", "Likes", "Comments", "Tags", "Retrieved",
}

// Workbook is a built export ready to be written
type Workbook struct {
	file     *excelize.File
	filename string
}

// Filename is the suggested file name, derived from the channel title
func (w *Workbook) Filename() string {
	return w.filename
}

// WriteTo writes the xlsx document to out
func (w *Workbook) WriteTo(out io.Writer) (int64, error) {
	return w.file.WriteTo(out)
}

// SaveAs writes the xlsx document to path
func (w *Workbook) SaveAs(path string) error {
	return w.file.SaveAs(path)
}

// Close releases the workbook's resources
func (w *Workbook) Close() error {
	return w.file.Close()
}

// Build creates a workbook with a sheet of the channel's videos, a channel
// summary sheet and a tag frequency sheet.
func Build(ctx context.Context, store Store, channelID string) (*Workbook, error) {
	channel, err := store.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	videos, err := store.ListChannelVideos(ctx, channelID)
	if err != nil {
		return nil, err
	}

	tagsByVideo := make(map[string][]string, len(videos))
	for _, v := range videos {
		tags, err := store.GetVideoTags(ctx, v.VideoID)
		if err != nil {
			return nil, err
		}
		tagsByVideo[v.VideoID] = tags
	}

	f := excelize.NewFile()
	ok := false
	defer func() {
		if !ok {
			f.Close()
		}
	}()

	videoSheet := slug.SheetName(channel.ChannelName, channel.ChannelID)
	if videoSheet == channelSheet || videoSheet == tagsSheet {
		videoSheet = channel.ChannelID
	}
	if err := f.SetSheetName("Sheet1", videoSheet); err != nil {
		return nil, fmt.Errorf("failed to name video sheet: %w", err)
	}
	if err := writeVideos(f, videoSheet, videos, tagsByVideo); err != nil {
		return nil, err
	}
	if err := writeChannel(f, channel); err != nil {
		return nil, err
	}
	if err := writeTagCounts(f, tagsByVideo); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	ok = true
	return &Workbook{
		file:     f,
		filename: slug.GenerateWithFallback(channel.ChannelName, channel.ChannelID) + ".xlsx",
	}, nil
}

func writeVideos(f *excelize.File, sheet string, videos []*storage.Video, tagsByVideo map[string][]string) error {
	if err := f.SetSheetRow(sheet, "A1", &videoHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := boldRow(f, sheet, len(videoHeader)); err != nil {
		return err
	}

	for i, v := range videos {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			v.VideoID,
			v.Title,
			v.Duration,
			v.ViewCount,
			v.LikeCount,
			v.CommentCount,
			strings.Join(tagsByVideo[v.VideoID], storage.TagSeparator),
			v.RetrievalDate.UTC().Format("2006-01-02 15:04:05"),
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write video %s: %w", v.VideoID, err)
		}
	}

	if err := f.SetColWidth(sheet, "B", "B", 48); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "G", "G", 60); err != nil {
		return err
	}
	if len(videos) > 0 {
		lastCell, err := excelize.CoordinatesToCellName(len(videoHeader), len(videos)+1)
		if err != nil {
			return err
		}
		if err := f.AutoFilter(sheet, "A1:"+lastCell, nil); err != nil {
			return fmt.Errorf("failed to add filter: %w", err)
		}
	}
	return nil
}

func writeChannel(f *excelize.File, ch *storage.Channel) error {
	if _, err := f.NewSheet(channelSheet); err != nil {
		return fmt.Errorf("failed to create channel sheet: %w", err)
	}
	rows := [][]interface{}{
		{"Channel ID", ch.ChannelID},
		{"Name", ch.ChannelName},
		{"Link", ch.LinkToChannel},
		{"About", ch.About},
		{"Subscribers", ch.Subscribers},
		{"Total videos", ch.NumberOfTotalVideos},
		{"Retrieved videos", ch.NumberOfRetrievedVideos},
		{"Retrieved", ch.ChannelRetrievalDate.UTC().Format("2006-01-02 15:04:05")},
	}
	for i := range rows {
		if err := f.SetSheetRow(channelSheet, fmt.Sprintf("A%d", i+1), &rows[i]); err != nil {
			return fmt.Errorf("failed to write channel row: %w", err)
		}
	}
	return f.SetColWidth(channelSheet, "A", "A", 18)
}

// writeTagCounts lists every tag with the number of videos carrying it,
// most frequent first
func writeTagCounts(f *excelize.File, tagsByVideo map[string][]string) error {
	counts := map[string]int{}
	for _, tags := range tagsByVideo {
		for _, t := range tags {
			counts[t]++
		}
	}
	type tagCount struct {
		tag   string
		count int
	}
	sorted := make([]tagCount, 0, len(counts))
	for t, c := range counts {
		sorted = append(sorted, tagCount{t, c})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].count != sorted[j].count {
			return sorted[i].count > sorted[j].count
		}
		return sorted[i].tag < sorted[j].tag
	})

	if _, err := f.NewSheet(tagsSheet); err != nil {
		return fmt.Errorf("failed to create tags sheet: %w", err)
	}
	header := []interface{}{"Tag", "Videos"}
	if err := f.SetSheetRow(tagsSheet, "A1", &header); err != nil {
		return err
	}
	if err := boldRow(f, tagsSheet, len(header)); err != nil {
		return err
	}
	for i, tc := range sorted {
		row := []interface{}{tc.tag, tc.count}
		if err := f.SetSheetRow(tagsSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return err
		}
	}
	return f.SetColWidth(tagsSheet, "A", "A", 32)
}

func boldRow(f *excelize.File, sheet string, cols int) error {
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(cols, 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}
