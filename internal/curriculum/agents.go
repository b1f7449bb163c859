package curriculum

import (
	"ExoLab-Agents/internal/agent"
	"ExoLab-Agents/internal/llm"
)

// TopicsAgent 从课程安排中抽取讲座主题。
var TopicsAgent = agent.WithOutput[topicsOutput](agent.Agent{
	Name:        "Course Schedule Extractor",
	Model:       "gpt-4o-mini",
	Temperature: llm.Temperature(0.1),
	Instructions: `Extract only the lecture topics from the following schedule,
excluding exams, holidays, non-course material, course introductions, discussion events, etc.
Output the result as a JSON list where each entry is a topic name`,
}, "lecture_topics")

// SubtopicsAgent 为单个主题列出子主题。
var SubtopicsAgent = agent.WithOutput[TopicSubtopics](agent.Agent{
	Name:        "Subtopics Extractor",
	Model:       "gpt-4o-mini",
	Temperature: llm.Temperature(0.1),
	Instructions: `For the given lecture topic, extract relevant subtopics.
Output the result as a JSON object with "topic" as the main topic name
and "subtopics" as a list of subtopics.`,
}, "lecture_subtopics")

// ExplanationsAgent 为子主题撰写 Markdown 讲解。
var ExplanationsAgent = agent.WithOutput[Explanation](agent.Agent{
	Name:        "Subtopic Explainer",
	Model:       "gpt-4o-mini",
	Temperature: llm.Temperature(0.7),
	Instructions: `Write a detailed explanation of the given subtopic in Markdown format.

Explain in detail what this subtopic is about, but **do not** discuss the other subtopics of the topic (they will be provided).
Focus only on this subtopic and provide clear and structured information.

Output the result as a JSON object with "topic", "subtopic", and "explanation".`,
}, "subtopic_explanation")

// BookTOCAgent 联网搜索书籍目录。
var BookTOCAgent = agent.WithOutput[BookTOC](agent.Agent{
	Name:        "Book TOC Searcher",
	Model:       "gpt-4o",
	Temperature: llm.Temperature(0.7),
	WebSearch:   true,
	Instructions: `You are a book table of contents finder.
When given a book title, search the web for its table of contents.
Return a JSON object with:
  - "book": the given book title.
  - "table_of_contents": a list of chapter titles (if available).`,
}, "book_toc")

// CourseAgent 抽取课程主题、简介与参考读物。
var CourseAgent = agent.WithOutput[CourseContent](agent.Agent{
	Name:        "Course Schedule Extractor",
	Model:       "gpt-4o",
	Temperature: llm.Temperature(0.1),
	Instructions: `Extract the following details from the provided course schedule:
1. Lecture topics as a JSON list of strings (exclude exams, holidays, non-course material, course introductions, discussion events, etc.).
2. A short description of the course summarizing its content.
3. Reading materials as a JSON array of strings containing recommended texts.
Output the result as a JSON object with the keys "topics", "description", and "reading_materials".`,
}, "course_content")
