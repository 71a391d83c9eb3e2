package synthesis

import (
	"context"
	"fmt"

	"scene-forge/internal/model"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// maxSyntaxIssues - сколько синтаксических ошибок максимум попадает в отчет.
const maxSyntaxIssues = 5

// SyntaxChecker ищет синтаксические ошибки во фрагменте.
type SyntaxChecker interface {
	Check(ctx context.Context, fragment string) ([]model.Issue, error)
}

// TreeSitterChecker разбирает фрагмент грамматикой Python.
// Парсер tree-sitter не потокобезопасен, поэтому создается на каждый вызов.
type TreeSitterChecker struct{}

// Check возвращает ERROR и MISSING узлы дерева разбора как Issue(Syntax).
func (TreeSitterChecker) Check(ctx context.Context, fragment string) ([]model.Issue, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, []byte(fragment))
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора фрагмента: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil, nil
	}

	var issues []model.Issue
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil || len(issues) >= maxSyntaxIssues {
			return
		}
		switch {
		case n.IsMissing():
			issues = append(issues, model.Issue{
				Kind:    model.IssueSyntax,
				Rule:    "python_syntax",
				Message: fmt.Sprintf("missing '%s'", n.Type()),
				Line:    int(n.StartPoint().Row) + 1,
			})
			return
		case n.Type() == "ERROR":
			issues = append(issues, model.Issue{
				Kind:    model.IssueSyntax,
				Rule:    "python_syntax",
				Message: "invalid syntax",
				Line:    int(n.StartPoint().Row) + 1,
			})
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)

	if len(issues) == 0 {
		// HasError без конкретного узла - отмечаем фрагмент целиком
		issues = append(issues, model.Issue{Kind: model.IssueSyntax, Rule: "python_syntax", Message: "invalid syntax"})
	}
	return issues, nil
}
