// Package curriculum 负责从课程资料中抽取主题、子主题、讲解、书籍目录与课程概要。
package curriculum
