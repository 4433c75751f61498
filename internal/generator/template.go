package generator

import (
	"context"
	"time"

	"awardbot/internal/domain"
)

// Template builds a plain congratulation post without a model.
type Template struct {
	now func() time.Time
}

func NewTemplate() *Template {
	return &Template{now: time.Now}
}

func (t *Template) Name() string { return "template" }

func (t *Template) Healthy(context.Context) error { return nil }

func (t *Template) Generate(_ context.Context, ann *domain.Announcement, languages []string) (*domain.ContentPackage, error) {
	pkg := &domain.ContentPackage{
		AnnouncementID: ann.ID,
		Announcement:   ann,
		Titles:         make(map[string]string),
		Texts:          make(map[string]string),
		PlatformTexts: map[string]string{
			"twitter": "🎉 " + truncate(ann.Title, 200) + " #NYCU #AI #Award",
		},
		Hashtags:    MergeHashtags(nil, languages),
		Generator:   t.Name(),
		GeneratedAt: t.now(),
	}
	for _, lang := range languages {
		switch lang {
		case "zh":
			pkg.Titles[lang] = ann.Title
			pkg.Texts[lang] = "🎉 恭喜！" + ann.Title + "\n\n" + ann.Summary
		default:
			pkg.Titles[lang] = "Congratulations! " + ann.Title
			pkg.Texts[lang] = "🎉 Congratulations! We are proud to announce this achievement: " + ann.Title
		}
	}
	return pkg, nil
}
