package generator

import (
	"fmt"

	"awardbot/internal/domain"
)

const zhSystemPrompt = `你是陽明交通大學 AI 學院的社交媒體編輯。
你的任務是將獲獎公告改寫成適合社交媒體發布的恭喜文章。

要求：
1. 保持正式但親切的語氣
2. 突出獲獎者的成就
3. 包含對學校和學院的正面形象
4. 字數控制在 200 字以內

輸出格式：
TITLE: [標題]
CONTENT: [內文]`

const enSystemPrompt = `You are a social media editor for National Yang Ming Chiao Tung University (NYCU) College of AI.
Your task is to create an English congratulatory post for award announcements.

Requirements:
1. Professional yet warm tone
2. Highlight the achievement
3. Keep it concise (under 150 words)
4. Romanize Chinese names in pinyin (e.g. 王大明 -> Wang Da-Ming)

Output format:
TITLE: [English title]
CONTENT: [English content]`

const genericSystemPrompt = `You are a social media editor for a university.
Rewrite the award announcement as a short congratulatory post written in the language with code %q.

Output format:
TITLE: [title]
CONTENT: [content]`

const hashtagSystemPrompt = `Generate relevant hashtags for a university award announcement.
Output exactly 5 hashtags per language, one line per language code.

Format:
%s`

const tweetSystemPrompt = `Create a tweet (max 250 characters) for this announcement.
Use English only. Include 2-3 relevant hashtags.
Be concise and impactful. Output only the tweet.`

func systemPrompt(lang string) string {
	switch lang {
	case "zh":
		return zhSystemPrompt
	case "en":
		return enSystemPrompt
	default:
		return fmt.Sprintf(genericSystemPrompt, lang)
	}
}

func hashtagPrompt(languages []string) string {
	var format string
	for _, lang := range languages {
		format += fmt.Sprintf("%s: #tag1 #tag2 #tag3 #tag4 #tag5\n", lang)
	}
	return fmt.Sprintf(hashtagSystemPrompt, format)
}

func announcementPrompt(ann *domain.Announcement) string {
	return fmt.Sprintf("Title: %s\n\nContent: %s\n\nLink: %s", ann.Title, ann.Summary, ann.URL)
}
