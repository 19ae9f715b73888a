package service

// 角色
const (
	RoleManager  = "manager"
	RolePlanner  = "planner"
	RoleOperator = "operator"
)

// Actor 当前操作人，来自JWT
type Actor struct {
	ID        string
	Name      string
	Roles     []string
	RequestID string
}

// HasRole 满足任一角色即可
func (a Actor) HasRole(roles ...string) bool {
	for _, have := range a.Roles {
		for _, want := range roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// PrimaryRole 第一个角色，用于共识请求
func (a Actor) PrimaryRole() string {
	if len(a.Roles) == 0 {
		return ""
	}
	return a.Roles[0]
}

func requireRole(a Actor, roles ...string) error {
	if a.ID == "" {
		return newError(KindUnauthorized, "未登录")
	}
	if !a.HasRole(roles...) {
		return newError(KindForbidden, "无权限执行该操作")
	}
	return nil
}
