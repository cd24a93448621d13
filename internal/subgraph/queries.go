package subgraph

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// DenyList holds addresses never treated as community members: the auction
// house, the zero address and the DAO treasury.
var DenyList = []string{
	"0x0bc3807ec262cb779b38d65b38158acc3bfede10",
	"0x0000000000000000000000000000000000000000",
	"0x18222a762bf67024193de25e1cdc7aa6e614c695",
}

// PageSize is the subgraph's maximum `first`.
const PageSize = 1000

// document is a parsed and checked GraphQL query.
type document struct {
	name  string
	field string
	text  string
}

// mustDocument parses query and records its operation name and single
// top-level field. It panics on malformed queries so they fail at init.
func mustDocument(query string) document {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		panic(fmt.Sprintf("subgraph: invalid query: %v", err))
	}
	if len(doc.Operations) != 1 {
		panic("subgraph: query must define exactly one operation")
	}
	op := doc.Operations[0]
	if op.Operation != ast.Query {
		panic("subgraph: only query operations are supported")
	}
	if len(op.SelectionSet) != 1 {
		panic("subgraph: query must select exactly one root field")
	}
	field, ok := op.SelectionSet[0].(*ast.Field)
	if !ok {
		panic("subgraph: root selection must be a field")
	}
	name := field.Name
	if field.Alias != "" {
		name = field.Alias
	}
	return document{name: op.Name, field: name, text: query}
}

var (
	accountsQuery = mustDocument(`
query Accounts($skip: Int!, $first: Int!, $exclude: [ID!]!) {
  accounts(
    skip: $skip
    first: $first
    orderBy: tokenBalance
    orderDirection: desc
    where: { id_not_in: $exclude, tokenBalance_gt: 0 }
  ) {
    id
  }
}`)

	delegatesQuery = mustDocument(`
query Delegates($skip: Int!, $first: Int!, $exclude: [ID!]!) {
  delegates(
    skip: $skip
    first: $first
    orderBy: delegatedVotes
    orderDirection: desc
    where: { id_not_in: $exclude, delegatedVotes_gt: 0 }
    subgraphError: deny
  ) {
    id
    delegatedVotes
  }
}`)

	votesQuery = mustDocument(`
query Votes($skip: Int!, $first: Int!, $startBlock: BigInt!) {
  votes(
    skip: $skip
    first: $first
    orderBy: blockNumber
    orderDirection: desc
    where: { blockNumber_gte: $startBlock }
    subgraphError: deny
  ) {
    voter {
      id
    }
  }
}`)

	proposalsQuery = mustDocument(`
query Proposals($skip: Int!, $first: Int!) {
  proposals(
    skip: $skip
    first: $first
    orderBy: createdBlock
    orderDirection: asc
    subgraphError: deny
  ) {
    id
    title
    status
    startBlock
    endBlock
    votes(first: 1000, orderBy: id, orderDirection: asc) {
      voter {
        id
      }
      blockNumber
    }
  }
}`)
)
