package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxMockupFileSize bounds a single mockup image (10 MiB)
const MaxMockupFileSize = 10 * 1024 * 1024

// Expiry windows for stored mockup binaries
const (
	MockupDefaultExpiry   = 7 * 24 * time.Hour
	MockupExtendedExpiry  = 30 * 24 * time.Hour
	MockupProcessedExpiry = 7 * 24 * time.Hour
)

// MockupUpload binds an image binary in object storage to a PRD request
type MockupUpload struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	RequestID          uuid.UUID       `json:"request_id" db:"request_id"`
	StoragePath        string          `json:"storage_path" db:"storage_path"`
	Bucket             string          `json:"bucket" db:"bucket"`
	FileName           string          `json:"file_name" db:"file_name"`
	FileSize           int64           `json:"file_size" db:"file_size"`
	MimeType           string          `json:"mime_type" db:"mime_type"`
	UploadedAt         time.Time       `json:"uploaded_at" db:"uploaded_at"`
	ExpiresAt          time.Time       `json:"expires_at" db:"expires_at"`
	AnalysisResult     *MockupAnalysis `json:"analysis_result,omitempty"`
	AnalysisConfidence *float64        `json:"analysis_confidence,omitempty" db:"analysis_confidence"`
	IsProcessed        bool            `json:"is_processed" db:"is_processed"`
}

// Validate enforces the upload invariants
func (m *MockupUpload) Validate() error {
	if m.FileSize > MaxMockupFileSize {
		return NewErrorf(ErrValidation, "mockup file size %d exceeds the 10 MiB limit", m.FileSize)
	}
	if m.FileSize <= 0 {
		return NewError(ErrValidation, "mockup file is empty")
	}
	if !strings.HasPrefix(m.MimeType, "image/") {
		return NewErrorf(ErrValidation, "mime type %q is not an image", m.MimeType)
	}
	return nil
}

// UIElementType is the closed enum of recognizable mockup components
type UIElementType string

const (
	UIButton         UIElementType = "button"
	UITextField      UIElementType = "text_field"
	UILabel          UIElementType = "label"
	UIImage          UIElementType = "image"
	UIIcon           UIElementType = "icon"
	UINavigationBar  UIElementType = "navigation_bar"
	UITabBar         UIElementType = "tab_bar"
	UITableView      UIElementType = "table_view"
	UICollectionView UIElementType = "collection_view"
	UICard           UIElementType = "card"
	UIDropdown       UIElementType = "dropdown"
	UICheckbox       UIElementType = "checkbox"
	UIRadioButton    UIElementType = "radio_button"
	UISlider         UIElementType = "slider"
	UIToggle         UIElementType = "toggle"
	UISearchBar      UIElementType = "search_bar"
	UIOther          UIElementType = "other"
)

// NormalizeUIElementType maps free-form provider output onto the closed enum
func NormalizeUIElementType(s string) UIElementType {
	normalized := UIElementType(strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")))
	switch normalized {
	case UIButton, UITextField, UILabel, UIImage, UIIcon, UINavigationBar, UITabBar,
		UITableView, UICollectionView, UICard, UIDropdown, UICheckbox, UIRadioButton,
		UISlider, UIToggle, UISearchBar:
		return normalized
	default:
		return UIOther
	}
}

// BoundingBox is a normalized position within the mockup, all values in [0,1]
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"w"`
	Height float64 `json:"h"`
}

// UIElement is a typed component identified in a mockup
type UIElement struct {
	Type       UIElementType `json:"type"`
	Label      string        `json:"label,omitempty"`
	Bounds     BoundingBox   `json:"bounds"`
	Confidence float64       `json:"confidence"`
}

// TextCategory classifies extracted mockup text
type TextCategory string

const (
	TextHeading     TextCategory = "heading"
	TextSubheading  TextCategory = "subheading"
	TextBody        TextCategory = "body"
	TextLabel       TextCategory = "label"
	TextButton      TextCategory = "button"
	TextPlaceholder TextCategory = "placeholder"
	TextError       TextCategory = "error"
	TextOther       TextCategory = "other"
)

// ExtractedText is one text entry pulled from a mockup
type ExtractedText struct {
	Content  string       `json:"content"`
	Category TextCategory `json:"category"`
}

// LayoutStructure describes the screen's composition
type LayoutStructure struct {
	ScreenType      string   `json:"screen_type"`
	HierarchyLevels int      `json:"hierarchy_levels"`
	PrimaryLayout   string   `json:"primary_layout"`
	ComponentGroups []string `json:"component_groups,omitempty"`
}

// BusinessLogicInference is an inferred behavior with its confidence
type BusinessLogicInference struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// MockupAnalysis is the structured result of analyzing one mockup image
type MockupAnalysis struct {
	UIElements    []UIElement              `json:"ui_elements"`
	ExtractedText []ExtractedText          `json:"extracted_text,omitempty"`
	Layout        LayoutStructure          `json:"layout"`
	ColorScheme   []string                 `json:"color_scheme,omitempty"`
	UserFlows     []string                 `json:"user_flows,omitempty"`
	BusinessLogic []BusinessLogicInference `json:"business_logic,omitempty"`
	Confidence    float64                  `json:"confidence"`
}

// ConsolidatedAnalysis aggregates every analyzed mockup of one request
type ConsolidatedAnalysis struct {
	RequestID      uuid.UUID                `json:"request_id"`
	UIElementTypes []UIElementType          `json:"ui_element_types"`
	UserFlows      []string                 `json:"user_flows"`
	BusinessLogic  []BusinessLogicInference `json:"business_logic"`
	ExtractedText  []ExtractedText          `json:"extracted_text"`
	MeanConfidence float64                  `json:"mean_confidence"`
	MockupCount    int                      `json:"mockup_count"`
}
