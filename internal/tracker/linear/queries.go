package linear

import "fmt"

// issueFields is selected by every query that returns issues.
const issueFields = `
fragment IssueFields on Issue {
	id
	identifier
	title
	description
	priority
	url
	branchName
	dueDate
	team { id key }
	state { id name type }
	assignee { id name email }
	labels { nodes { id name } }
	project { id name }
	parent { id identifier }
}
`

const teamContextTemplate = `
query TeamContext($key: String!) {
	teams(filter: { key: { eq: $key } }, first: 1) {
		nodes {
			id
			key
			name
			states(first: 250) { nodes { %[1]s } pageInfo { hasNextPage endCursor } }
			labels(first: 250) { nodes { %[2]s } pageInfo { hasNextPage endCursor } }
			members(first: 250) { nodes { %[3]s } pageInfo { hasNextPage endCursor } }
			projects(first: 250) { nodes { %[4]s } pageInfo { hasNextPage endCursor } }
		}
	}
}
`

// Node selections for the team lists, shared by TeamContext and the
// follow-up page queries.
const (
	stateSelection   = "id name type position"
	labelSelection   = "id name"
	memberSelection  = "id name email"
	projectSelection = "id name"
)

var queryTeamContext = fmt.Sprintf(teamContextTemplate,
	stateSelection, labelSelection, memberSelection, projectSelection)

// teamListQuery fetches the page of one team list after $after.
func teamListQuery(op, field, selection string) string {
	return fmt.Sprintf(`
query %s($teamId: String!, $after: String) {
	team(id: $teamId) {
		%s(first: 250, after: $after) {
			nodes { %s }
			pageInfo { hasNextPage endCursor }
		}
	}
}
`, op, field, selection)
}

const queryIssue = `
query Issue($id: String!) {
	issue(id: $id) { ...IssueFields }
}
` + issueFields

const queryTeamIssues = `
query TeamIssues($teamId: ID!, $first: Int!, $after: String) {
	issues(
		first: $first
		after: $after
		orderBy: updatedAt
		filter: { team: { id: { eq: $teamId } } }
	) {
		nodes { ...IssueFields }
		pageInfo { hasNextPage endCursor }
	}
}
` + issueFields

const querySearchTitle = `
query SearchIssueTitle($teamId: ID!, $title: String!) {
	issues(
		first: 20
		filter: { team: { id: { eq: $teamId } }, title: { eqIgnoreCase: $title } }
	) {
		nodes { ...IssueFields }
	}
}
` + issueFields

const mutationIssueCreate = `
mutation IssueCreate($input: IssueCreateInput!) {
	issueCreate(input: $input) {
		success
		issue { id identifier title url }
	}
}
`

const mutationIssueUpdate = `
mutation IssueUpdate($id: String!, $input: IssueUpdateInput!) {
	issueUpdate(id: $id, input: $input) {
		success
		issue { id identifier title url }
	}
}
`
