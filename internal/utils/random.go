package utils

import (
	"fmt"
	"math/rand"

	"github.com/mozillazg/go-pinyin"
	"github.com/sysu-ecnc-dev/roster-coordinator/backend/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

var commonSurnames = []string{
	"王", "李", "张", "刘", "陈", "杨", "赵", "黄", "周", "吴",
	"徐", "孙", "胡", "朱", "高", "林", "何", "郭", "马", "罗",
}
var commonNameCharacters = []string{
	"伟", "强", "芳", "敏", "静", "丽", "刚", "杰", "娟", "勇",
	"艳", "涛", "明", "军", "磊", "洋", "勇", "霞", "飞", "玲",
	"超", "华", "平", "辉", "梅", "鑫", "龙", "鹏", "玉", "斌",
	"庆", "建", "丹", "彬", "凤", "旭", "宁", "乐", "成", "欣",
}

func GenerateRandomChineseName() string {
	surname := commonSurnames[rand.Intn(len(commonSurnames))]
	nameLength := rand.Intn(2) + 1
	name := ""

	for i := 0; i < nameLength; i++ {
		name += commonNameCharacters[rand.Intn(len(commonNameCharacters))]
	}
	return surname + name
}

var roles = []domain.Role{
	domain.RoleScheduler,
	domain.RoleSupervisor,
	domain.RoleAdmin,
}

func GenerateRandomRole() domain.Role {
	return roles[rand.Intn(len(roles))]
}

var digits = "0123456789"

func GenerateUsernameFromChineseName(chineseName string) string {
	pinyinArray := pinyin.LazyConvert(chineseName, nil)
	username := ""

	for _, pinyin := range pinyinArray {
		length := rand.Intn(len(pinyin)) + 1
		username += pinyin[:length]
	}

	digitsLength := rand.Intn(3) + 1
	for i := 0; i < digitsLength; i++ {
		username += string(digits[rand.Intn(len(digits))])
	}

	return username
}

func GenerateRandomUser(password string, emailDomainName string) (*domain.User, error) {
	fullName := GenerateRandomChineseName()
	username := GenerateUsernameFromChineseName(fullName)
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     username,
		PasswordHash: string(passwordHash),
		FullName:     fullName,
		Email:        username + "@" + emailDomainName,
		Role:         GenerateRandomRole(),
	}

	return user, nil
}

func GenerateRandomOTP() string {
	return fmt.Sprintf("%06d", rand.Intn(1000000))
}

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*")

func GenerateRandomPassword(length int) string {
	random_password := make([]rune, length)
	for i := range random_password {
		random_password[i] = letters[rand.Intn(len(letters))]
	}
	return string(random_password)
}

var skillPool = []string{
	"前台接待", "网络调试", "打印维护", "账务处理", "排班培训", "设备巡检",
}

// 用 Fisher-Yates 洗牌算法生成一个随机技能子集
func GenerateRandomSkills() []string {
	skills := append([]string{}, skillPool...)

	for i := len(skills) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		skills[i], skills[j] = skills[j], skills[i]
	}

	n := rand.Intn(len(skills)) + 1

	return skills[:n]
}

func GenerateRandomStaffMember(emailDomainName string) *domain.StaffMember {
	fullName := GenerateRandomChineseName()
	username := GenerateUsernameFromChineseName(fullName)

	return &domain.StaffMember{
		FullName: fullName,
		Email:    username + "@" + emailDomainName,
		Skills:   GenerateRandomSkills(),
		IsActive: true,
	}
}

// 在 [startHour, endHour) 内随机生成一个班次时间段，时长 1~4 小时
func GenerateRandomTimeWindow(startHour, endHour int) (string, string) {
	start := rand.Intn(endHour-startHour-1) + startHour
	duration := rand.Intn(4) + 1
	end := start + duration
	if end > endHour {
		end = endHour
	}

	return fmt.Sprintf("%02d:00:00", start), fmt.Sprintf("%02d:00:00", end)
}
